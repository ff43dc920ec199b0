package artifacts

import (
	"context"
	"path/filepath"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/config"
)

// NewFromConfig builds the Store named by cfg.ArtifactBackend, the
// single construction point cmd/adsentryd uses at startup.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ArtifactBackend {
	case "", "file":
		dir := cfg.ArtifactDir
		if dir == "" {
			dir = "./artifacts"
		}
		return NewFileStore(filepath.Clean(dir))
	case "s3":
		if cfg.ArtifactS3Bucket == "" {
			return nil, apperr.New(apperr.KindInputInvalid, "ARTIFACT_S3_BUCKET is required for the s3 artifact backend")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.ArtifactS3Bucket,
			Region:   cfg.ArtifactS3Region,
			Endpoint: cfg.ArtifactS3Endpoint,
			Prefix:   cfg.ArtifactS3Prefix,
		})
	case "gcs":
		if cfg.ArtifactGCSBucket == "" {
			return nil, apperr.New(apperr.KindInputInvalid, "ARTIFACT_GCS_BUCKET is required for the gcs artifact backend")
		}
		return newGCSStoreFromConfig(ctx, cfg)
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "unsupported artifact backend: "+cfg.ArtifactBackend)
	}
}
