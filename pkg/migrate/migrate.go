// Package migrate discovers and applies the SQL files under
// migrations/, version-tracking them in schema_migrations, grounded on
// original_source/server/migration_runner.py's MigrationRunner. Go
// generalizes the runtime migrations_dir override by embedding the
// shipped set with go:embed (apps/helm-node/core/cmd/helm/
// controlroom_cmd.go embeds its control-room assets the same way) and
// falling back to an on-disk directory when one is configured, so a
// deployment can stage an extra migration file without a rebuild.
package migrate

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
)

//go:embed migrations/*.sql
var embedded embed.FS

const embeddedDir = "migrations"

var migrationPattern = regexp.MustCompile(`^migration_(\d+)_(.+)\.sql$`)

// Migration is one discovered SQL file.
type Migration struct {
	Filename    string
	Version     int
	Description string
	SQL         string
}

// fromFilename parses a Migration's version/description from its
// filename, matching Migration.from_file exactly: "init_db.sql" is
// always version 0, everything else must match
// migration_<N>_<description>.sql or is skipped.
func fromFilename(name, contents string) (Migration, bool) {
	if name == "init_db.sql" {
		return Migration{Filename: name, Version: 0, Description: "Initial database schema", SQL: contents}, true
	}
	m := migrationPattern.FindStringSubmatch(name)
	if m == nil {
		return Migration{}, false
	}
	version := 0
	fmt.Sscanf(m[1], "%d", &version)
	description := strings.ReplaceAll(m[2], "_", " ")
	return Migration{Filename: name, Version: version, Description: description, SQL: contents}, true
}

// Checksum returns the MD5 hex digest of a migration's SQL text, the
// same algorithm migration_runner.py's _calculate_checksum uses, kept
// for exact parity with any ledger rows a Python-era deployment wrote.
func Checksum(sqlText string) string {
	sum := md5.Sum([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

// Result reports what run_pending_migrations did.
type Result struct {
	Applied  int
	Failed   int
	Messages []string
}

// Migrator applies migrations against a *sql.DB.
type Migrator struct {
	db  *sql.DB
	dir string // optional on-disk override; empty uses the embedded set
}

// New returns a Migrator reading from the embedded migration set.
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// WithDir overrides the migration source with an on-disk directory,
// for operators staging a migration ahead of a rebuild.
func (m *Migrator) WithDir(dir string) *Migrator {
	m.dir = dir
	return m
}

// EnsureTable creates schema_migrations if it doesn't already exist,
// so status/apply work even against a brand-new database.
func (m *Migrator) EnsureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version           INTEGER PRIMARY KEY,
			filename          TEXT NOT NULL,
			description       TEXT NOT NULL,
			checksum          TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL,
			applied_at        TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "ensure schema_migrations table", err)
	}
	return nil
}

// Discover returns every migration file, version-sorted, from the
// on-disk override directory if one is set, else the embedded set.
func (m *Migrator) Discover() ([]Migration, error) {
	var readDir func(name string) ([]fs.DirEntry, error)
	var readFile func(name string) ([]byte, error)

	if m.dir != "" {
		readDir = func(string) ([]fs.DirEntry, error) { return os.ReadDir(m.dir) }
		readFile = func(name string) ([]byte, error) { return os.ReadFile(filepath.Join(m.dir, name)) }
	} else {
		readDir = func(string) ([]fs.DirEntry, error) { return embedded.ReadDir(embeddedDir) }
		readFile = func(name string) ([]byte, error) { return embedded.ReadFile(embeddedDir + "/" + name) }
	}

	entries, err := readDir(".")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "read migrations directory", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		contents, err := readFile(e.Name())
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "read migration "+e.Name(), err)
		}
		if mig, ok := fromFilename(e.Name(), string(contents)); ok {
			out = append(out, mig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// applied returns the set of versions already recorded in
// schema_migrations.
func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list applied migrations", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan applied migration", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

// Pending returns every discovered migration whose version is not yet
// recorded in schema_migrations, version-sorted.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureTable(ctx); err != nil {
		return nil, err
	}
	all, err := m.Discover()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range all {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Apply executes every pending migration in version order inside its
// own transaction, stopping at the first failure the way
// run_pending_migrations does — a later migration is never attempted
// once an earlier one fails, since schema state after a partial
// failure is unknown.
func (m *Migrator) Apply(ctx context.Context) (Result, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(pending) == 0 {
		return Result{Messages: []string{"No pending migrations"}}, nil
	}

	var res Result
	for _, mig := range pending {
		start := time.Now()
		err := m.applyOne(ctx, mig, start)
		if err != nil {
			res.Failed++
			res.Messages = append(res.Messages, fmt.Sprintf("failed to apply %s: %v", mig.Filename, err))
			return res, err
		}
		elapsed := time.Since(start)
		res.Applied++
		res.Messages = append(res.Messages, fmt.Sprintf("applied %s in %dms", mig.Filename, elapsed.Milliseconds()))
	}
	return res, nil
}

func (m *Migrator) applyOne(ctx context.Context, mig Migration, start time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "begin migration tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "execute "+mig.Filename, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, filename, description, checksum, execution_time_ms, applied_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, mig.Version, mig.Filename, mig.Description, Checksum(mig.SQL), time.Since(start).Milliseconds(), time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "record "+mig.Filename, err)
	}
	return tx.Commit()
}

// Status mirrors get_status: total/applied/pending counts plus the
// pending set, for a `migrate status` CLI subcommand or /health report.
type Status struct {
	TotalMigrations int
	AppliedCount    int
	PendingCount    int
	Pending         []Migration
}

// Status reports the current migration state without applying anything.
func (m *Migrator) Status(ctx context.Context) (Status, error) {
	if err := m.EnsureTable(ctx); err != nil {
		return Status{}, err
	}
	all, err := m.Discover()
	if err != nil {
		return Status{}, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return Status{}, err
	}
	var pending []Migration
	for _, mig := range all {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return Status{
		TotalMigrations: len(all),
		AppliedCount:    len(done),
		PendingCount:    len(pending),
		Pending:         pending,
	}, nil
}
