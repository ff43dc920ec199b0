// Package store implements the normalized Postgres-backed data model
// and its invariants (spec.md §3, §4.1), grounded on
// core/pkg/credentials/store.go (transactional upsert style,
// sql.NullString/sql.NullTime scan targets, errors.Is(sql.ErrNoRows))
// and core/pkg/database/multiregion.go (DSN/connection handling). Raw
// database/sql + github.com/lib/pq, no ORM.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
)

// Store is the single entry point for all persistent reads and writes.
// Every method is safe to call concurrently; multi-statement mutations
// are wrapped in a transaction, single-statement ones run directly.
type Store struct {
	db *sql.DB
}

// Open opens a Postgres connection pool at dsn and verifies
// connectivity with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "ping database", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB (used by tests with sqlmock).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool, for components (the
// migrator, the health checker) that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and
// rolling back (a safe no-op after a commit) otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "commit transaction", err)
	}
	return nil
}

// notFound translates a sql.ErrNoRows into the taxonomy's NOT_FOUND
// kind, wrapping any other error as STORAGE_UNAVAILABLE.
func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, what, err)
	}
	return apperr.Wrap(apperr.KindStorageUnavailable, fmt.Sprintf("query %s", what), err)
}
