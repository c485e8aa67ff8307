// Package store is the persistence layer backing the data model in §3 of
// the platform spec: Anime, AnimeSource, Episode, Comment,
// TmdbEpisodeMapping, ScheduledTask, TaskHistory, RateLimitState,
// ApiToken, ConfigEntry and CacheEntry all live in one SQLite database,
// migrated with goose, following the same sqlite3+goose pairing the
// upstream queue database used (see config.DatabaseSettings).
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the shared *sql.DB and the per-entity data-access helpers.
type Store struct {
	DB *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 + WAL: serialize writers, readers still share the connection pool coherently

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
