package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/engine"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// GetOptions holds options for the get command.
type GetOptions struct {
	Query  string
	Stream bool
}

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	opts := &GetOptions{}

	cmd := &cobra.Command{
		Use:   "get <model> [id]",
		Short: "Read one record or list records",
		Long: `Read a record by id, or list the records of a model.

List reads accept a URL query expression with filters, sorting, projection
and paging. A page that has more results prints a token; pass it back with
page("<token>") to continue.

With --stream records are written as they are read. In JSON mode each record
is one line.`,
		Example: `  # Read one record
  manifold get geo/city 4f1c...

  # Filter and sort
  manifold get geo/city -q 'population>1000&sort(-population)&limit(10)'

  # Follow a reference
  manifold get geo/city -q 'country.code="lt"&select(name,country.name)'

  # Stream every record as JSON lines
  manifold get geo/city --stream -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := schema.ModelID(args[0])
			if len(args) == 2 {
				return runGetOne(cmd, model, args[1])
			}
			return runGetAll(cmd, model, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Query expression for list reads")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "Write records as they are read")

	return cmd
}

func runGetOne(cmd *cobra.Command, model schema.ModelID, id string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var rec engine.Record
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		rec, err = cmdCtx.Engine.Get(x, model, id)
		return err
	})
	if err != nil {
		return err
	}
	return renderRecord(cmdCtx.Renderer, rec)
}

func runGetAll(cmd *cobra.Command, model schema.ModelID, opts *GetOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Stream {
		return streamRecords(cmd, cmdCtx, model, opts.Query)
	}

	var page *engine.Page
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		page, err = cmdCtx.Engine.GetAll(x, model, opts.Query)
		return err
	})
	if err != nil {
		return err
	}
	return renderPage(cmdCtx.Renderer, page)
}

func streamRecords(cmd *cobra.Command, cmdCtx *CommandContext, model schema.ModelID, q string) error {
	r := cmdCtx.Renderer
	jsonLines := r.EffectiveMode() == output.ModeJSON
	enc := json.NewEncoder(r.Writer())

	var collected []map[string]any
	err := cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		recs, err := cmdCtx.Engine.Stream(x, model, q)
		if err != nil {
			return err
		}
		defer func() { _ = recs.Close() }()

		for recs.Next() {
			if jsonLines {
				if err := enc.Encode(recs.Record()); err != nil {
					return err
				}
				continue
			}
			collected = append(collected, recs.Record())
		}
		return recs.Err()
	})
	if err != nil {
		return err
	}
	if !jsonLines {
		r.Records(recordColumns, collected)
	}
	return nil
}
