package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ApiToken gates access to the compat API surface (§4.6): every request
// is mounted under /{token}/... and checked against this table.
type ApiToken struct {
	Token          string
	Name           string
	IsEnabled      bool
	DailyCallLimit int
	ValidUntil     *time.Time
	Counter        int
	CounterResetAt *time.Time
}

func scanAPIToken(row *sql.Row) (*ApiToken, error) {
	var t ApiToken
	var validUntil, counterResetAt sql.NullTime
	if err := row.Scan(&t.Token, &t.Name, &t.IsEnabled, &t.DailyCallLimit, &validUntil, &t.Counter, &counterResetAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ValidUntil = scanNullTime(validUntil)
	t.CounterResetAt = scanNullTime(counterResetAt)
	return &t, nil
}

func (s *Store) GetAPIToken(ctx context.Context, token string) (*ApiToken, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT token, name, is_enabled, daily_call_limit, valid_until, counter, counter_reset_at
		FROM api_token WHERE token = ?`, token)
	return scanAPIToken(row)
}

func (s *Store) ListAPITokens(ctx context.Context) ([]ApiToken, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT token, name, is_enabled, daily_call_limit, valid_until, counter, counter_reset_at FROM api_token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApiToken
	for rows.Next() {
		var t ApiToken
		var validUntil, counterResetAt sql.NullTime
		if err := rows.Scan(&t.Token, &t.Name, &t.IsEnabled, &t.DailyCallLimit, &validUntil, &t.Counter, &counterResetAt); err != nil {
			return nil, err
		}
		t.ValidUntil = scanNullTime(validUntil)
		t.CounterResetAt = scanNullTime(counterResetAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateAPIToken(ctx context.Context, t ApiToken) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO api_token (token, name, is_enabled, daily_call_limit, valid_until, counter, counter_reset_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.Token, t.Name, t.IsEnabled, t.DailyCallLimit, nullTime(t.ValidUntil), nullTime(t.CounterResetAt))
	return err
}

func (s *Store) DeleteAPIToken(ctx context.Context, token string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM api_token WHERE token = ?`, token)
	return err
}

// IncrementTokenCounter bumps the daily call counter, resetting it first
// if counter_reset_at has rolled past the given "now" day boundary.
func (s *Store) IncrementTokenCounter(ctx context.Context, token string, now time.Time, nextResetAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE api_token SET
			counter = CASE WHEN counter_reset_at IS NULL OR counter_reset_at <= ? THEN 1 ELSE counter + 1 END,
			counter_reset_at = CASE WHEN counter_reset_at IS NULL OR counter_reset_at <= ? THEN ? ELSE counter_reset_at END
		WHERE token = ?`, now, now, nextResetAt, token)
	return err
}
