// Package sqlite provides the reference relational adapter, backed by the
// pure-Go modernc.org/sqlite driver.
//
// Use ":memory:" (the default) for a private in-memory database. In-memory
// databases are pinned to one connection, since every connection would
// otherwise open its own empty database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	sqlitedialect "github.com/leapstack-labs/manifold/pkg/dialects/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{
			Logger:       logger,
			Dialect:      sqlitedialect.SQLite,
			GooseDialect: goose.DialectSQLite3,
			Classify:     classify,
		},
	}
}

// Connect opens the database at cfg.DSN, falling back to cfg.Path.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Path
	}
	if dsn == "" {
		dsn = ":memory:"
	}
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory && !strings.Contains(dsn, "_pragma=busy_timeout") {
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	a.Logger.Debug("connecting to sqlite", slog.String("dsn", dsn))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	a.DB = db
	a.Cfg = cfg
	a.Migrations = sub
	return nil
}

// classify reports busy and locked databases as transient.
func classify(err error) (transient, constraint bool) {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false, false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true, false
	case sqlite3.SQLITE_CONSTRAINT:
		return false, true
	}
	return false, false
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
