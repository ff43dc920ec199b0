//go:build gcp

package artifacts

import (
	"context"

	"github.com/Mindburn-Labs/adsentry/pkg/config"
)

func newGCSStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.ArtifactGCSBucket, Prefix: cfg.ArtifactGCSPrefix})
}
