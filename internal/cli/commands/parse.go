package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/query"
)

// NewParseCommand creates the parse command.
func NewParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Parse a query and print its canonical form",
		Long: `Parse a URL query expression and print it back in canonical form.

The canonical form is stable: parsing it again yields the same query.
Syntax errors report the offending position.`,
		Example: `  # Normalize a query
  manifold parse 'select(name,population)&population>1000&sort(-population)'

  # As JSON
  manifold parse 'name="Vilnius"' -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, strings.Join(args, "&"))
		},
	}
}

func runParse(cmd *cobra.Command, input string) error {
	q, err := query.Parse(input)
	if err != nil {
		return err
	}

	mode := output.ModeAuto
	if cfg := config.GetCurrentConfig(); cfg != nil {
		mode = output.Mode(cfg.OutputFormat)
	}
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]string{"query": q.String()})
	}
	r.Println(q.String())
	return nil
}
