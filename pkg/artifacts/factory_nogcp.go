//go:build !gcp

package artifacts

import (
	"context"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/config"
)

func newGCSStoreFromConfig(context.Context, *config.Config) (Store, error) {
	return nil, apperr.New(apperr.KindInputInvalid, "GCS artifact storage requires building with -tags gcp")
}
