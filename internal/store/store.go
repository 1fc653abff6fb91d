// Package store manages the embedded SQLite database backing the dashboard.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// TimeFormat is how timestamps are stored: RFC3339 with sub-second
// precision, always UTC. Lexicographic order matches chronological order,
// which the timeline bucketing and "today" queries rely on.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in the store's canonical timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Store manages the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// Options controls store initialization.
type Options struct {
	// SourcesDir holds the legacy flat-file JSON sources. When non-empty
	// and the database has never been seeded, records are imported from
	// it exactly once.
	SourcesDir string
}

// New opens (or creates) the SQLite database, runs migrations, and performs
// the one-time seed from legacy JSON sources if the seeded marker is absent.
func New(dbPath string, opts Options, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	if err := s.seedOnce(opts.SourcesDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("store initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
