package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/engine"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// ChangesOptions holds options for the changes command.
type ChangesOptions struct {
	Since int64
	Limit int
}

// NewChangesCommand creates the changes command.
func NewChangesCommand() *cobra.Command {
	opts := &ChangesOptions{}

	cmd := &cobra.Command{
		Use:   "changes <model>",
		Short: "List change log entries of a model",
		Long: `List the change log of a model in sequence order.

Every committed write appends an entry with the operation, the record id,
its new revision and the transaction that made it. Use --since with the last
sequence number seen to read only newer entries.`,
		Example: `  # Everything
  manifold changes geo/city

  # Newer than entry 42, at most 100
  manifold changes geo/city --since 42 --limit 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(cmd, schema.ModelID(args[0]), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", 0, "List entries after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of entries (0 for all)")

	return cmd
}

func runChanges(cmd *cobra.Command, model schema.ModelID, opts *ChangesOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var changes []engine.Change
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		changes, err = cmdCtx.Engine.Changes(x, model, opts.Since, opts.Limit)
		return err
	})
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if changes == nil {
			changes = []engine.Change{}
		}
		return r.JSON(map[string]any{"_data": changes})
	}
	rows := make([][]any, len(changes))
	for i, c := range changes {
		rows[i] = []any{c.Seq, c.Op, c.ID, c.Revision, c.TxID, c.Time.UTC().Format(time.RFC3339)}
	}
	r.Table([]string{"_seq", "_op", "_id", "_revision", "_txn", "_created"}, rows)
	return nil
}
