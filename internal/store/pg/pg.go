// Package pg is the PostgreSQL persistence layer. The qr_code unique index is
// the correctness mechanism for QR identity uniqueness: inserts and
// assignments surface 23505 conflicts as product.ErrCodeTaken so callers can
// retry the generate-and-insert cycle.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/product"
)

const uniqueViolation = "23505"

// Store implements product.Store, auth.UserStore and audit.Sink on Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ product.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
