// Package artifacts implements the content-addressed blob store behind
// C8: the original upload blob (XML/HTML/JSON/CSV) and its HTML
// companion, addressed by SHA-256 so re-uploading identical bytes never
// duplicates storage. Grounded on
// teacher_reference/artifacts/{store.go,s3_store.go,factory.go}
// (core/pkg/artifacts in the teacher repo), re-scoped from the
// teacher's generic compliance-artifact CAS to uploaded report
// artifacts, and wired to pkg/config's ArtifactBackend/ArtifactDir/
// ArtifactS3* fields instead of the teacher's own env-var set.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
)

// Store is a content-addressed blob store: Put returns the hash a
// caller persists (on a Report's OriginalFile/HTMLFile columns);
// Get/Exists/Delete operate on that hash.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Delete(ctx context.Context, hash string) error
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func blobKey(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", apperr.New(apperr.KindInputInvalid, "invalid artifact hash format: "+hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, "invalid artifact hash hex", err)
	}
	return raw + ".blob", nil
}

// FileStore is a filesystem-backed Store: each blob lands at
// baseDir/<hash>.blob, written to a temp file and renamed into place so
// a concurrent reader never observes a partial write.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore ensures baseDir exists and returns a FileStore rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "create artifact directory", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := hashOf(data)
	key, _ := blobKey(hash)
	path := filepath.Join(s.baseDir, key)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", apperr.Wrap(apperr.KindStorageUnavailable, "write artifact blob", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", apperr.Wrap(apperr.KindStorageUnavailable, "commit artifact blob", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := blobKey(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "artifact not found: "+hash)
		}
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "open artifact blob", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "read artifact blob", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := blobKey(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperr.Wrap(apperr.KindStorageUnavailable, "stat artifact blob", err)
}

func (s *FileStore) Delete(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := blobKey(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, key)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.KindStorageUnavailable, "delete artifact blob", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)

func wrapErr(op, hash string, err error) error {
	return apperr.Wrap(apperr.KindStorageUnavailable, fmt.Sprintf("%s artifact %s", op, hash), err)
}
