package artifacts_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/artifacts"
	"github.com/Mindburn-Labs/adsentry/pkg/config"
)

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("report bytes")

	hash, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, "sha256:", hash[:7])

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileStore_PutIsIdempotent(t *testing.T) {
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	h1, err := store.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	h2, err := store.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFileStore_GetMissingIsNotFound(t *testing.T) {
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "sha256:"+"00000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFileStore_RejectsMalformedHash(t *testing.T) {
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "not-a-hash")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInputInvalid))
}

func TestFileStore_DeleteThenExistsIsFalse(t *testing.T) {
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := store.Put(ctx, []byte("to delete"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, hash))

	exists, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewFromConfig_DefaultsToFileBackend(t *testing.T) {
	cfg := &config.Config{ArtifactBackend: "", ArtifactDir: filepath.Join(t.TempDir(), "artifacts")}
	store, err := artifacts.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	_, ok := store.(*artifacts.FileStore)
	assert.True(t, ok)
}

func TestNewFromConfig_S3MissingBucketIsInputInvalid(t *testing.T) {
	cfg := &config.Config{ArtifactBackend: "s3"}
	_, err := artifacts.NewFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInputInvalid))
}

func TestNewFromConfig_UnsupportedBackend(t *testing.T) {
	cfg := &config.Config{ArtifactBackend: "azure"}
	_, err := artifacts.NewFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInputInvalid))
}
