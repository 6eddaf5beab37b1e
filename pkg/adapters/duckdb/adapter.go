// Package duckdb provides a DuckDB backend adapter.
//
// DuckDB has no SAVEPOINT, so a failed write aborts the surrounding
// transaction, and goose has no DuckDB dialect, so the change log is not
// kept.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	duckdbdialect "github.com/leapstack-labs/manifold/pkg/dialects/duckdb"
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{
			Logger:   logger,
			Dialect:  duckdbdialect.DuckDB,
			Classify: classify,
		},
	}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.DSN
	if path == "" {
		path = cfg.Path
	}
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, stmt := range setup(params) {
		a.Logger.Debug("configuring duckdb", slog.String("sql", stmt))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to configure duckdb: %w", err)
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// setup renders the statements applying params, settings in key order.
func setup(p *Params) []string {
	var out []string
	for _, ext := range p.Extensions {
		q := duckdbdialect.DuckDB.QuoteIdentifier(ext)
		out = append(out, "INSTALL "+q, "LOAD "+q)
	}
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("SET GLOBAL %s = %s",
			duckdbdialect.DuckDB.QuoteIdentifier(k), duckdbdialect.DuckDB.QuoteString(p.Settings[k])))
	}
	return out
}

// classify reports write-write conflicts as transient.
func classify(err error) (transient, constraint bool) {
	var de *duckdb.Error
	if !errors.As(err, &de) {
		return false, false
	}
	switch de.Type {
	case duckdb.ErrorTypeTransaction, duckdb.ErrorTypeConnection:
		return true, false
	case duckdb.ErrorTypeConstraint:
		return false, true
	}
	return false, false
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
