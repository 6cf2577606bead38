// Package pg implements the auth subsystem's persistence contracts on
// PostgreSQL via database/sql and the pgx stdlib driver.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.org/internal/access"
	"authgate.org/internal/auth"
	"authgate.org/internal/session"
	"authgate.org/internal/verify"
)

const (
	pgErrUniqueViolation = "23505"
)

type Store struct {
	db *sql.DB
}

var (
	_ session.Store             = (*Store)(nil)
	_ auth.UserDirectory        = (*Store)(nil)
	_ auth.RoleDirectory        = (*Store)(nil)
	_ access.RoleDirectory      = (*Store)(nil)
	_ access.OperationDirectory = (*Store)(nil)
	_ access.GrantDirectory     = (*Store)(nil)
	_ access.SubjectDirectory   = (*Store)(nil)
	_ verify.CodeStore          = (*Store)(nil)
)

// Open connects to PostgreSQL with pool defaults tuned for the API workload.
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

// New wraps an existing database handle. Used by tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
