package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

const sqliteColumns = `id, name, email, phone, password_hash, email_verified`

var sqliteDialect = dialect{
	name:           "sqlite",
	byEmail:        `SELECT ` + sqliteColumns + ` FROM users WHERE email = ?`,
	byPhone:        `SELECT ` + sqliteColumns + ` FROM users WHERE phone = ?`,
	byID:           `SELECT ` + sqliteColumns + ` FROM users WHERE id = ?`,
	updatePassword: `UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
	markVerified:   `UPDATE users SET email_verified = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
	insert:         `INSERT INTO users (id, name, email, phone, password_hash, email_verified) VALUES (?, ?, ?, ?, ?, ?)`,
	isDuplicate: func(err error) bool {
		var sqErr sqlite3.Error
		return errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint
	},
}

// SQLite is a UserStore on a local SQLite file.
type SQLite struct {
	sqlStore
}

// NewSQLite opens (and creates, if needed) the database file and applies the
// embedded migrations. The DSN is a file path or a "file:" URI.
func NewSQLite(opts ...Option) (*SQLite, error) {
	cfg := buildOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(cfg.DSN); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	cfg.Logger.Info("sqlite user store ready")
	return NewSQLiteFromDB(db, cfg.Logger), nil
}

// NewSQLiteFromDB wraps an open handle without running migrations.
func NewSQLiteFromDB(db *sql.DB, logger *zap.Logger) *SQLite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLite{sqlStore{db: db, q: sqliteDialect, logger: logger.Named("sqlite")}}
}

// sqlitePath returns the file path of dsn, or "" for in-memory databases.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return p
}
