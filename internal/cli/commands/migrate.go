package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or extend backend storage for every model",
		Long: `Create the tables, collections and directories the declared models need.

Migration is additive: missing tables and columns are created, existing data
is left alone. Running it again is a no-op.`,
		Example: `  # Migrate with the project config
  manifold migrate

  # Against another config
  manifold migrate --config staging.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd)
		},
	}
}

func runMigrate(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.Engine.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	models := cmdCtx.Graph.Models()
	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = string(m.ID())
		}
		return r.JSON(map[string]any{"migrated": ids})
	}
	rows := make([][]any, len(models))
	for i, m := range models {
		rows[i] = []any{string(m.ID()), backendName(cmdCtx, m.Backend()), m.Table()}
	}
	r.Table([]string{"model", "backend", "table"}, rows)
	return nil
}

// backendName resolves an unset model backend to the default one.
func backendName(c *CommandContext, name string) string {
	if name == "" {
		return c.Cfg.DefaultBackend
	}
	return name
}
