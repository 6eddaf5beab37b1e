package commands

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// NewWipeCommand creates the wipe command.
func NewWipeCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "wipe [model]",
		Short: "Delete every record of a model",
		Long: `Delete every record of a model, or of every model with --all.

Wiping all models skips those the current scope may not wipe.`,
		Example: `  # Wipe one model
  manifold wipe geo/city

  # Wipe everything
  manifold wipe --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("pass a model or --all, not both")
			case all:
				return runWipe(cmd, "")
			case len(args) == 0:
				return errors.New("model is required (or use --all)")
			}
			return runWipe(cmd, schema.ModelID(args[0]))
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Wipe every model")

	return cmd
}

func runWipe(cmd *cobra.Command, model schema.ModelID) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	counts := make(map[schema.ModelID]int64)
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		if model == "" {
			var err error
			counts, err = cmdCtx.Engine.WipeAll(x)
			return err
		}
		n, err := cmdCtx.Engine.Wipe(x, model)
		counts[model] = n
		return err
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make(map[string]int64, len(counts))
		for id, n := range counts {
			out[string(id)] = n
		}
		return r.JSON(map[string]any{"deleted": out})
	}
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id, counts[schema.ModelID(id)]}
	}
	r.Table([]string{"model", "deleted"}, rows)
	return nil
}
