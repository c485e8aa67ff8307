package store

import (
	"context"
	"time"
)

// AccessLogEntry is one recorded compat API request (spec §4.6 step 4:
// "increment the token's call counter; record an access-log row").
type AccessLogEntry struct {
	Token     string
	ClientIP  string
	UserAgent string
	Path      string
	Status    string
	CreatedAt time.Time
}

// RecordAccessLog persists one compat API request. Status is one of
// allowed, denied_ua_blacklist, denied_ua_whitelist, denied_expired,
// denied_disabled (spec §4.6 step 3), matching the reason codes the
// middleware chain assigns.
func (s *Store) RecordAccessLog(ctx context.Context, e AccessLogEntry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO access_log (token, client_ip, user_agent, path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Token, e.ClientIP, e.UserAgent, e.Path, e.Status, e.CreatedAt)
	return err
}

// RecentAccessLog returns the most recent access-log rows for token, newest
// first, capped at limit.
func (s *Store) RecentAccessLog(ctx context.Context, token string, limit int) ([]AccessLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT token, client_ip, COALESCE(user_agent,''), path, status, created_at
		FROM access_log WHERE token = ? ORDER BY created_at DESC LIMIT ?`, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		if err := rows.Scan(&e.Token, &e.ClientIP, &e.UserAgent, &e.Path, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
