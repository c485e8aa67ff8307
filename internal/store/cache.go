package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// GetCacheEntry returns the raw JSON value for key, or ErrNotFound if the
// key is absent or has expired (§9: the Cache Store is backed by the DB,
// not an in-memory map).
func (s *Store) GetCacheEntry(ctx context.Context, key string, now time.Time) (string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT value_json FROM cache_entry WHERE key = ? AND expires_at > ?`, key, now)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *Store) SetCacheEntry(ctx context.Context, key, valueJSON string, expiresAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cache_entry (key, value_json, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, expires_at = excluded.expires_at`,
		key, valueJSON, expiresAt)
	return err
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entry WHERE key = ?`, key)
	return err
}

// ClearCachePrefix deletes every key beginning with prefix, used when
// provider settings change and their cached search/episode results must
// be invalidated (§4.1, §6).
func (s *Store) ClearCachePrefix(ctx context.Context, prefix string) (int64, error) {
	escaped := strings.NewReplacer("%", "\\%", "_", "\\_").Replace(prefix)
	res, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entry WHERE key LIKE ? || '%' ESCAPE '\'`, escaped)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpiredCacheEntries deletes every expired row. It is exposed
// through cachestore.Cache.PurgeExpired; no scheduled job calls it.
func (s *Store) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entry WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
