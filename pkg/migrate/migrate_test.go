package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFilename_InitDB(t *testing.T) {
	m, ok := fromFilename("init_db.sql", "CREATE TABLE x();")
	require.True(t, ok)
	assert.Equal(t, 0, m.Version)
	assert.Equal(t, "Initial database schema", m.Description)
}

func TestFromFilename_VersionedMigration(t *testing.T) {
	m, ok := fromFilename("migration_3_add_settings_table.sql", "ALTER TABLE x ADD y TEXT;")
	require.True(t, ok)
	assert.Equal(t, 3, m.Version)
	assert.Equal(t, "add settings table", m.Description)
}

func TestFromFilename_UnrecognizedNameSkipped(t *testing.T) {
	_, ok := fromFilename("readme.sql.txt", "")
	assert.False(t, ok)
	_, ok = fromFilename("notes.sql", "")
	assert.False(t, ok)
}

func TestChecksum_StableForSameContent(t *testing.T) {
	a := Checksum("CREATE TABLE x();")
	b := Checksum("CREATE TABLE x();")
	c := Checksum("CREATE TABLE y();")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600))
	}
	return dir
}

func TestMigrator_Apply_AppliesPendingInVersionOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"init_db.sql":                    "CREATE TABLE reports();",
		"migration_1_add_settings.sql":   "CREATE TABLE settings();",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE reports").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE settings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := New(db).WithDir(dir)
	res, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 0, res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Apply_StopsOnFirstFailure(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"init_db.sql":                 "CREATE TABLE reports();",
		"migration_1_broken.sql":      "NOT VALID SQL",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE reports").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	m := New(db).WithDir(dir)
	res, err := m.Apply(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 1, res.Failed)
}

func TestMigrator_Status_ReportsPendingCount(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"init_db.sql":                  "CREATE TABLE reports();",
		"migration_1_add_settings.sql": "CREATE TABLE settings();",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))

	m := New(db).WithDir(dir)
	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalMigrations)
	assert.Equal(t, 1, status.AppliedCount)
	assert.Equal(t, 1, status.PendingCount)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, 1, status.Pending[0].Version)
}
