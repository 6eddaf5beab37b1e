package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/internal/dag"
	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Check statuses.
const (
	StatusPass  = "pass"
	StatusWarn  = "warn"
	StatusError = "error"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, schema and backends",
		Long: `Check that the project is ready to serve requests.

The doctor command reports:
- configuration: which file was loaded and the effective defaults
- schema: models routed to undeclared backends, and backends with no models
- backends: whether each backend connects and opens a transaction

Output adapts to environment:
  - Terminal: plain text
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format

The command fails when any check reports an error.`,
		Example: `  # Run checks
  manifold doctor

  # Output as JSON
  manifold doctor -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Checks []HealthCheck `json:"checks"`
	Errors int           `json:"errors"`
	Warns  int           `json:"warnings"`
}

// HealthCheck is a single check result.
type HealthCheck struct {
	Group   string   `json:"group"`
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Details []string `json:"details,omitempty"`
}

func runDoctor(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}

	checks := configChecks(cmdCtx.Cfg)
	checks = append(checks, schemaChecks(cmdCtx.Cfg, cmdCtx.Graph)...)
	checks = append(checks, backendChecks(cmd.Context(), cmdCtx)...)

	out := summarize(checks)
	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}

	if out.Errors > 0 {
		return fmt.Errorf("doctor found %d error(s)", out.Errors)
	}
	return nil
}

func configChecks(cfg *config.Config) []HealthCheck {
	file := config.GetConfigFileUsed()
	c := HealthCheck{Group: "configuration", Name: "config file", Status: StatusPass}
	if file == "" {
		c.Status = StatusWarn
		c.Details = []string{"no manifold.yaml found, using defaults"}
	} else {
		c.Details = []string{file}
	}
	return []HealthCheck{c, {
		Group:  "configuration",
		Name:   "defaults",
		Status: StatusPass,
		Details: []string{
			"default backend: " + cfg.DefaultBackend,
			fmt.Sprintf("max limit: %d", cfg.Query.MaxLimit),
			fmt.Sprintf("retry: %d attempts, %s..%s", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
		},
	}}
}

// schemaChecks cross-checks model routing against the configured backends.
func schemaChecks(cfg *config.Config, g *schema.Graph) []HealthCheck {
	used := make(map[string]bool)
	routing := HealthCheck{Group: "schema", Name: "backend routing", Status: StatusPass}
	for _, m := range g.Models() {
		names := []string{m.Backend()}
		for _, d := range m.Properties() {
			if d.Backend() != "" {
				names = append(names, d.Backend())
			}
		}
		for _, name := range names {
			if name == "" {
				name = cfg.DefaultBackend
			}
			used[name] = true
			if _, ok := cfg.Backends[name]; !ok {
				routing.Status = StatusError
				routing.Details = append(routing.Details, fmt.Sprintf("%s uses undeclared backend %q", m.ID(), name))
			}
		}
	}

	unused := HealthCheck{Group: "schema", Name: "unused backends", Status: StatusPass}
	for _, bc := range cfg.BackendConfigs() {
		if !used[bc.Name] {
			unused.Status = StatusWarn
			unused.Details = append(unused.Details, fmt.Sprintf("backend %q has no models", bc.Name))
		}
	}

	models := HealthCheck{
		Group:   "schema",
		Name:    "models",
		Status:  StatusPass,
		Details: []string{fmt.Sprintf("%d model(s) declared", len(g.Models()))},
	}
	if len(g.Models()) == 0 {
		models.Status = StatusWarn
	}
	refs := HealthCheck{Group: "schema", Name: "reference cycles", Status: StatusPass}
	if has, path := dag.FromSchema(g).HasCycle(); has {
		refs.Status = StatusWarn
		refs.Details = []string{(&dag.CycleError{Path: path}).Error()}
	}
	return []HealthCheck{models, routing, unused, refs}
}

// backendChecks connects to every backend and opens a transaction.
func backendChecks(ctx context.Context, c *CommandContext) []HealthCheck {
	var checks []HealthCheck
	for _, bc := range c.Cfg.BackendConfigs() {
		check := HealthCheck{Group: "backends", Name: bc.Name, Status: StatusPass}
		if err := pingBackend(ctx, c, bc); err != nil {
			check.Status = StatusError
			check.Details = []string{err.Error()}
		} else {
			check.Details = []string{bc.Type}
		}
		checks = append(checks, check)
	}
	return checks
}

func pingBackend(ctx context.Context, c *CommandContext, bc adapter.Config) error {
	cfg := *c.Cfg
	cfg.Backends = map[string]adapter.Config{bc.Name: bc}
	backends, err := openBackends(ctx, &cfg, c.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeAll(backends) }()

	tx, err := backends[bc.Name].Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx.Rollback(ctx)
}

func summarize(checks []HealthCheck) *DoctorOutput {
	out := &DoctorOutput{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case StatusError:
			out.Errors++
		case StatusWarn:
			out.Warns++
		}
	}
	return out
}

// groupChecks returns the checks by group, groups in first-seen order.
func groupChecks(checks []HealthCheck) ([]string, map[string][]HealthCheck) {
	var order []string
	groups := make(map[string][]HealthCheck)
	for _, c := range checks {
		if _, ok := groups[c.Group]; !ok {
			order = append(order, c.Group)
		}
		groups[c.Group] = append(groups[c.Group], c)
	}
	return order, groups
}

func statusIcon(status string) string {
	switch status {
	case StatusError:
		return "✗"
	case StatusWarn:
		return "!"
	}
	return "✓"
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	title := cases.Title(language.English)
	order, groups := groupChecks(out.Checks)
	for i, g := range order {
		if i > 0 {
			r.Println()
		}
		r.Println(title.String(g))
		for _, c := range groups[g] {
			r.Printf("  %s %s\n", statusIcon(c.Status), c.Name)
			for _, d := range c.Details {
				r.Printf("      %s\n", d)
			}
		}
	}
	r.Println()
	r.Printf("%d error(s), %d warning(s)\n", out.Errors, out.Warns)
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	title := cases.Title(language.English)
	r.Println(output.FormatHeader(1, "Doctor"))
	order, groups := groupChecks(out.Checks)
	for _, g := range order {
		r.Println()
		r.Println(output.FormatHeader(2, title.String(g)))
		r.Println()
		checks := groups[g]
		sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
		for _, c := range checks {
			line := fmt.Sprintf("- **%s**: %s", c.Name, c.Status)
			if len(c.Details) > 0 {
				line += " (" + strings.Join(c.Details, "; ") + ")"
			}
			r.Println(line)
		}
	}
	r.Println()
	r.Printf("%d error(s), %d warning(s)\n", out.Errors, out.Warns)
}
