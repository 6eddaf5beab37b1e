package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/dispatch"
	"github.com/leapstack-labs/manifold/pkg/engine"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// PushOptions holds options for the push command.
type PushOptions struct {
	Input  string
	Atomic bool
}

// pushItem is one write as read from the input.
type pushItem struct {
	Op    string         `yaml:"op"`
	Model string         `yaml:"model"`
	ID    string         `yaml:"id"`
	Data  map[string]any `yaml:"data"`
}

// NewPushCommand creates the push command.
func NewPushCommand() *cobra.Command {
	opts := &PushOptions{}

	cmd := &cobra.Command{
		Use:   "push [file]",
		Short: "Apply a batch of writes",
		Long: `Apply a list of writes read from a JSON or YAML file, or from stdin.

Each item names an operation (insert, update, patch, upsert or delete), a
model, the record id where the operation needs one, and the data.

By default a failed item is reported and the rest still apply. With
--atomic the first failure rolls back the whole batch.`,
		Example: `  # Push from a file
  manifold push cities.yaml

  # All or nothing, from stdin
  cat changes.json | manifold push --atomic

Input:
  - op: insert
    model: geo/country
    data: {code: lt, name: Lithuania}
  - op: patch
    model: geo/city
    id: 4f1c...
    data: {population: 580000}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Input = args[0]
			}
			return runPush(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Atomic, "atomic", false, "Roll back the whole batch on the first failure")

	return cmd
}

// parseBatch decodes batch items. JSON input is read as YAML.
func parseBatch(data []byte) ([]engine.BatchItem, error) {
	var raw []pushItem
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid batch input: %w", err)
	}
	items := make([]engine.BatchItem, len(raw))
	for i, it := range raw {
		op, err := dispatch.ParseOp(strings.ToLower(it.Op))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if it.Model == "" {
			return nil, fmt.Errorf("item %d: model is required", i)
		}
		items[i] = engine.BatchItem{Op: op, Model: schema.ModelID(it.Model), ID: it.ID, Data: it.Data}
	}
	return items, nil
}

func runPush(cmd *cobra.Command, opts *PushOptions) error {
	data, err := readInput(cmd.InOrStdin(), opts.Input)
	if err != nil {
		return err
	}
	items, err := parseBatch(data)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var res *engine.BatchResult
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		res, err = cmdCtx.Engine.Batch(x, items, engine.BatchOptions{Atomic: opts.Atomic})
		return err
	})
	if err != nil {
		return err
	}

	renderBatch(cmdCtx.Renderer, items, res)

	if len(res.Failures) > 0 {
		errs := make([]error, len(res.Failures))
		for i, f := range res.Failures {
			errs[i] = fmt.Errorf("item %d: %w", f.Index, f.Err)
		}
		return fmt.Errorf("%d of %d items failed: %w", len(res.Failures), len(items), errors.Join(errs...))
	}
	return nil
}

func renderBatch(r *output.Renderer, items []engine.BatchItem, res *engine.BatchResult) {
	if r.EffectiveMode() == output.ModeJSON {
		failures := make([]map[string]any, len(res.Failures))
		for i, f := range res.Failures {
			failures[i] = map[string]any{"index": f.Index, "error": f.Err.Error()}
		}
		_ = r.JSON(map[string]any{
			"succeeded": res.Succeeded,
			"failed":    len(res.Failures),
			"records":   res.Records,
			"failures":  failures,
		})
		return
	}

	r.Printf("%d succeeded, %d failed\n", res.Succeeded, len(res.Failures))
	if len(res.Failures) == 0 {
		return
	}
	rows := make([][]any, len(res.Failures))
	for i, f := range res.Failures {
		it := items[f.Index]
		rows[i] = []any{f.Index, it.Op.String(), string(it.Model), f.Err.Error()}
	}
	r.Table([]string{"item", "op", "model", "error"}, rows)
}
