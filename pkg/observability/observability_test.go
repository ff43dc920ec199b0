package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/observability"
)

func TestTrack_RecordsSuccessAndFailure(t *testing.T) {
	p, err := observability.New("adsentry-test")
	require.NoError(t, err)
	ctx := context.Background()

	done := p.Track(ctx, "recompute_global")
	done(nil)

	done = p.Track(ctx, "recompute_global")
	done(errors.New("boom"))

	rm, err := p.Collect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)

	var sawRequests, sawErrors, sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "adsentry.requests.total":
				sawRequests = true
			case "adsentry.errors.total":
				sawErrors = true
			case "adsentry.operation.duration":
				sawDuration = true
			}
		}
	}
	assert.True(t, sawRequests)
	assert.True(t, sawErrors)
	assert.True(t, sawDuration)
}
