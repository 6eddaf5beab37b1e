package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/internal/manifest"
	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/engine"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"

	// Register backend adapters.
	_ "github.com/leapstack-labs/manifold/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/fs"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/memory"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/sqlite"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Graph    *schema.Graph
	Engine   *engine.Engine
	Renderer *output.Renderer
	Scope    *auth.Scope
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	c, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	eng, closeBackends, err := createEngine(cmd.Context(), c.Cfg, c.Graph, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	c.Engine = eng

	cleanup := func() {
		if err := closeBackends(); err != nil {
			c.Logger.Warn("failed to close backends", slog.Any("error", err))
		}
	}
	return c, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without backend
// connections. Useful for commands that only need the schema.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger(cmd.Context())

	if err := cfg.ValidateManifest(); err != nil {
		return nil, err
	}
	g, err := manifest.LoadGraph(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Graph:    g,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
		Scope:    newScope(cfg),
	}, nil
}

// Run executes fn in one request: its writes commit together when fn
// succeeds and roll back otherwise.
func (c *CommandContext) Run(ctx context.Context, fn func(x *execution.Context) error) error {
	return execution.Run(ctx, c.Scope, fn, execution.WithLogger(c.Logger))
}

// getConfig returns the current configuration, loading it from the
// working directory when the root command has not done so.
func getConfig() (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

// newScope grants the configured capabilities. Without any the CLI acts
// as operator tooling and is unrestricted.
func newScope(cfg *config.Config) *auth.Scope {
	if len(cfg.Auth.Scopes) == 0 {
		return auth.NewScope(nil, auth.WithPrefix(cfg.Auth.Prefix), auth.WithDecision(auth.DecisionAllow))
	}
	return auth.NewScope(cfg.Auth.Scopes, auth.WithPrefix(cfg.Auth.Prefix))
}

// fileBackends keep their data in a single file whose directory must exist.
var fileBackends = map[string]bool{"sqlite": true, "duckdb": true}

// openBackends creates and connects every configured backend concurrently.
// On failure the backends already connected are closed again.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]adapter.Adapter, error) {
	var (
		mu       sync.Mutex
		backends = make(map[string]adapter.Adapter)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, bc := range cfg.BackendConfigs() {
		a, err := adapter.NewAdapter(bc, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		g.Go(func() error {
			if fileBackends[bc.Type] && bc.DSN == "" && bc.Path != "" && bc.Path != ":memory:" {
				if err := os.MkdirAll(filepath.Dir(bc.Path), 0750); err != nil {
					return fmt.Errorf("failed to create directory for backend %q: %w", bc.Name, err)
				}
			}
			if err := a.Connect(ctx, bc); err != nil {
				return fmt.Errorf("failed to connect backend %q: %w", bc.Name, err)
			}
			mu.Lock()
			backends[bc.Name] = a
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = closeAll(backends)
		return nil, err
	}
	return backends, nil
}

func closeAll(backends map[string]adapter.Adapter) error {
	var errs []error
	for name, a := range backends {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func createEngine(ctx context.Context, cfg *config.Config, g *schema.Graph, logger *slog.Logger) (*engine.Engine, func() error, error) {
	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(engine.Config{
		Graph:          g,
		Backends:       backends,
		DefaultBackend: cfg.DefaultBackend,
		MaxLimit:       cfg.Query.MaxLimit,
		Retry: engine.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Logger: logger,
	})
	if err != nil {
		_ = closeAll(backends)
		return nil, nil, err
	}
	return eng, func() error { return closeAll(backends) }, nil
}
