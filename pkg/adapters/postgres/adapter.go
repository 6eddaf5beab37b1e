// Package postgres provides a PostgreSQL backend adapter using the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	pgdialect "github.com/leapstack-labs/manifold/pkg/dialects/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Params holds connection settings used when Config.DSN is empty.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{
			Logger:       logger,
			Dialect:      pgdialect.Postgres,
			GooseDialect: goose.DialectPostgres,
			Classify:     classify,
		},
	}
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := cfg.DSN
	if dsn == "" {
		var p Params
		if err := mapstructure.Decode(cfg.Params, &p); err != nil {
			return fmt.Errorf("invalid postgres params: %w", err)
		}
		dsn = buildPostgresDSN(p)
		a.Logger.Debug("connecting to postgres", slog.String("host", p.Host), slog.String("database", p.Database))
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
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

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(p Params) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := p.Host
	if host == "" {
		host = "localhost"
	}

	port := p.Port
	if port == 0 {
		port = 5432
	}

	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, p.Database, sslmode)

	if p.User != "" {
		dsn += fmt.Sprintf(" user=%s", p.User)
	}
	if p.Password != "" {
		dsn += fmt.Sprintf(" password=%s", p.Password)
	}
	return dsn
}

// classify reads the SQLSTATE of a server error: serialization failures,
// deadlocks and connection exceptions are transient, integrity violations
// are constraint errors.
func classify(err error) (transient, constraint bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return pgconn.SafeToRetry(err), false
	}
	switch {
	case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"):
		return true, false
	case strings.HasPrefix(pgErr.Code, "23"):
		return false, true
	}
	return false, false
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
