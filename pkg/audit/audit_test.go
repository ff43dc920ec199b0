package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/audit"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

type fakeStore struct {
	entries []*model.RiskCalculationHistory
}

func (f *fakeStore) AppendRiskCalculationHistory(_ context.Context, h *model.RiskCalculationHistory) error {
	f.entries = append(f.entries, h)
	return nil
}

func TestChecksum_StableAcrossKeyOrdering(t *testing.T) {
	a := map[string]interface{}{"domain": "corp.example", "score": 42.5}
	b := map[string]interface{}{"score": 42.5, "domain": "corp.example"}

	sumA, err := audit.Checksum(a)
	require.NoError(t, err)
	sumB, err := audit.Checksum(b)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
}

func TestChecksum_DiffersOnValueChange(t *testing.T) {
	sumA, err := audit.Checksum(map[string]interface{}{"score": 42.5})
	require.NoError(t, err)
	sumB, err := audit.Checksum(map[string]interface{}{"score": 42.6})
	require.NoError(t, err)

	assert.NotEqual(t, sumA, sumB)
}

func TestRecorder_Record_StampsChecksum(t *testing.T) {
	fs := &fakeStore{}
	r := audit.New(fs)

	err := r.Record(context.Background(), "corp.example", "upload", map[string]interface{}{"global_score": 12.0})
	require.NoError(t, err)

	require.Len(t, fs.entries, 1)
	entry := fs.entries[0]
	assert.Equal(t, "corp.example", entry.Domain)
	assert.Equal(t, "upload", entry.Trigger)
	assert.NotEmpty(t, entry.Payload["_checksum"])
	assert.Equal(t, 12.0, entry.Payload["global_score"])
}

func TestRecorder_Record_NilPayload(t *testing.T) {
	fs := &fakeStore{}
	r := audit.New(fs)

	err := r.Record(context.Background(), "corp.example", "scheduled", nil)
	require.NoError(t, err)
	require.Len(t, fs.entries, 1)
	assert.NotEmpty(t, fs.entries[0].Payload["_checksum"])
}
