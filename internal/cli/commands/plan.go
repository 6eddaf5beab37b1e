package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <model> [query]",
		Short: "Show how a list read would execute",
		Long: `Build the execution plan of a list read without running it.

The plan lists which parts of the query the backend evaluates natively and
which are evaluated in process, along with the columns it selects.`,
		Example: `  # Explain a filtered read
  manifold plan geo/city 'population>1000&sort(name)'

  # As JSON
  manifold plan geo/city 'select(name)' -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) > 1 {
				q = args[1]
			}
			return runPlan(cmd, schema.ModelID(args[0]), q)
		},
	}
}

func runPlan(cmd *cobra.Command, model schema.ModelID, q string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := cmdCtx.Engine.Plan(model, q, cmdCtx.Scope)
	if err != nil {
		return err
	}
	explain := p.Explain()

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(map[string]any{
			"model":   string(model),
			"query":   q,
			"backend": p.Backend.String(),
			"plan":    strings.Split(strings.TrimRight(explain, "\n"), "\n"),
		})
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, fmt.Sprintf("Plan: %s", model)))
		r.Println()
		r.Println(output.FormatCodeBlock("text", explain))
	default:
		r.Printf("%s", explain)
	}
	return nil
}
