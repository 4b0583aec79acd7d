// Package store provides UserProvider backends for goRecover: PostgreSQL,
// SQLite and an in-memory map.
//
// The SQL stores run their embedded migrations on open. Emails are stored
// lower-cased; lookups expect the normalized identifier the engine passes.
package store

import (
	"context"
	"errors"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"go.uber.org/zap"
)

// ErrDuplicateUser is returned by CreateUser when the id, email or phone is
// already taken.
var ErrDuplicateUser = errors.New("store: duplicate user")

// UserStore is a goRecover.UserProvider that can also seed accounts.
type UserStore interface {
	goRecover.UserProvider
	CreateUser(ctx context.Context, u goRecover.UserRecord) error
	Close() error
}

// Opts holds store options.
type Opts struct {
	DSN    string
	Logger *zap.Logger
}

// Option sets one Opts field.
type Option func(*Opts)

func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Opts) { o.Logger = logger }
}

func buildOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// DetectDSNType returns "postgres" for URL or key=value PostgreSQL DSNs and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return "postgres"
	case strings.Contains(d, "host=") && strings.Contains(d, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open picks the SQL backend from the DSN. An empty DSN yields a Memory
// store.
func Open(opts ...Option) (UserStore, error) {
	cfg := buildOpts(opts)
	if cfg.DSN == "" {
		cfg.Logger.Warn("no database DSN set, using in-memory user store")
		return NewMemory(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgres(opts...)
	}
	return NewSQLite(opts...)
}
