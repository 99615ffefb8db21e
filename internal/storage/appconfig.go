package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SetConfigValue upserts an operator setting.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetConfigValue returns the setting for key, or "" when unset. Absence is
// not an error; callers treat "" as not configured.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetConfigValues returns the settings for the given keys; unset keys are
// omitted from the result.
func (s *Store) GetConfigValues(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := "SELECT key, value FROM app_config WHERE key IN (?" + strings.Repeat(",?", len(keys)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// DeleteConfigValue removes a setting. Deleting an absent key is a no-op.
func (s *Store) DeleteConfigValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM app_config WHERE key = ?", key)
	return err
}
