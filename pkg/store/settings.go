package store

import (
	"context"
	"database/sql"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
)

// GetSetting returns a single string setting value, or ("", false) if
// unset. Settings hold operator-facing configuration (webhook URLs,
// notification templates) that does not belong in environment
// variables because it changes at runtime through the UI.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindStorageUnavailable, "get setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a single string setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "set setting", err)
	}
	return nil
}

// AllSettings returns every stored setting as a map, for populating a
// settings page in one read.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan setting", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
