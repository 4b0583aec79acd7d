package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Connection pool defaults for PostgreSQL.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

const pgColumns = `id, name, email, phone, password_hash, email_verified`

var postgresDialect = dialect{
	name:           "postgres",
	byEmail:        `SELECT ` + pgColumns + ` FROM users WHERE email = $1`,
	byPhone:        `SELECT ` + pgColumns + ` FROM users WHERE phone = $1`,
	byID:           `SELECT ` + pgColumns + ` FROM users WHERE id = $1`,
	updatePassword: `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
	markVerified:   `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`,
	insert:         `INSERT INTO users (id, name, email, phone, password_hash, email_verified) VALUES ($1, $2, $3, $4, $5, $6)`,
	isDuplicate: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// Postgres is a UserStore on PostgreSQL.
type Postgres struct {
	sqlStore
}

// NewPostgres opens the database, checks the connection and applies the
// embedded migrations.
func NewPostgres(opts ...Option) (*Postgres, error) {
	cfg := buildOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	cfg.Logger.Info("postgres user store ready")
	return NewPostgresFromDB(db, cfg.Logger), nil
}

// NewPostgresFromDB wraps an open handle without running migrations.
func NewPostgresFromDB(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{sqlStore{db: db, q: postgresDialect, logger: logger.Named("postgres")}}
}
