package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetConfigEntry reads one row of the config_entry key/value table.
// config.Manager does not use this table: its free-form keys live in the
// JSON settings file's Entries map.
func (s *Store) GetConfigEntry(ctx context.Context, key string) (string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT value FROM config_entry WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *Store) SetConfigEntry(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO config_entry (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) DeleteConfigEntry(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM config_entry WHERE key = ?`, key)
	return err
}

func (s *Store) AllConfigEntries(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM config_entry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
