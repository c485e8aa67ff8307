package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RateLimitState is the durable counter backing one rate-limit bucket
// (global, per-provider, or a fallback bucket), per §4.1's "counter reset
// every P seconds" semantics — not a continuously refilling token bucket.
type RateLimitState struct {
	BucketKey     string
	RequestCount  int
	LastResetTime time.Time
}

func (s *Store) GetRateLimitState(ctx context.Context, bucketKey string) (*RateLimitState, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT bucket_key, request_count, last_reset_time FROM rate_limit_state WHERE bucket_key = ?`, bucketKey)
	var st RateLimitState
	if err := row.Scan(&st.BucketKey, &st.RequestCount, &st.LastResetTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// UpsertRateLimitState writes the bucket's count/reset-time, creating the
// row on first use.
func (s *Store) UpsertRateLimitState(ctx context.Context, st RateLimitState) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_state (bucket_key, request_count, last_reset_time) VALUES (?, ?, ?)
		ON CONFLICT(bucket_key) DO UPDATE SET request_count = excluded.request_count, last_reset_time = excluded.last_reset_time`,
		st.BucketKey, st.RequestCount, st.LastResetTime)
	return err
}
