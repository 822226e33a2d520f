// Package pg implements the identity directory and the refresh-token store
// on PostgreSQL via database/sql and the pgx stdlib driver.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Directory returns the principal store.
func (s *Store) Directory() *Directory { return &Directory{db: s.db} }

// Tokens returns the refresh-token store.
func (s *Store) Tokens() *TokenStore { return &TokenStore{db: s.db} }
