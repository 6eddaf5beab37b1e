package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/internal/dag"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [model]",
		Short: "List declared models and their properties",
		Long: `List the models of the manifest with their backend and table, or the
properties of one model.

Output adapts to environment:
  - Terminal: boxed tables
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json`,
		Example: `  # List all models
  manifold list

  # Properties of one model
  manifold list geo/city

  # As JSON
  manifold list --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runListModel(cmd, schema.ModelID(args[0]))
			}
			return runList(cmd)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}

	models := modelsInOrder(cmdCtx.Graph)
	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]map[string]any, len(models))
		for i, m := range models {
			out[i] = map[string]any{
				"model":      string(m.ID()),
				"backend":    backendName(cmdCtx, m.Backend()),
				"table":      m.Table(),
				"properties": len(m.Properties()),
				"references": dag.References(m),
			}
		}
		return r.JSON(out)
	}

	rows := make([][]any, len(models))
	for i, m := range models {
		refs := make([]string, 0)
		for _, id := range dag.References(m) {
			refs = append(refs, string(id))
		}
		rows[i] = []any{string(m.ID()), backendName(cmdCtx, m.Backend()), m.Table(), len(m.Properties()), strings.Join(refs, ",")}
	}
	r.Table([]string{"model", "backend", "table", "properties", "references"}, rows)
	return nil
}

// modelsInOrder lists referenced models before the models that refer to
// them, or in declaration order when references form a cycle.
func modelsInOrder(g *schema.Graph) []*schema.Model {
	order, err := dag.FromSchema(g).TopologicalSort()
	if err != nil {
		return g.Models()
	}
	models := make([]*schema.Model, 0, len(order))
	for _, id := range order {
		m, _ := g.Model(id)
		models = append(models, m)
	}
	return models
}

func runListModel(cmd *cobra.Command, id schema.ModelID) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	m, ok := cmdCtx.Graph.Model(id)
	if !ok {
		return fmt.Errorf("unknown model %q", id)
	}

	var props []*schema.Descriptor
	var walk func(ds []*schema.Descriptor)
	walk = func(ds []*schema.Descriptor) {
		for _, d := range ds {
			props = append(props, d)
			if d.Kind() == schema.KindObject {
				walk(d.Properties())
			}
		}
	}
	walk(m.Properties())

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]map[string]any, len(props))
		for i, d := range props {
			out[i] = map[string]any{
				"property": d.Place(),
				"type":     typeName(d),
				"column":   d.Column(),
				"flags":    flags(d),
			}
		}
		return r.JSON(map[string]any{"model": string(id), "properties": out})
	}

	rows := make([][]any, len(props))
	for i, d := range props {
		rows[i] = []any{d.Place(), typeName(d), d.Column(), strings.Join(flags(d), ",")}
	}
	r.Table([]string{"property", "type", "column", "flags"}, rows)
	return nil
}

func typeName(d *schema.Descriptor) string {
	switch d.Kind() {
	case schema.KindPrimitive:
		return string(d.Scalar())
	case schema.KindSensitive:
		return fmt.Sprintf("sensitive(%s)", d.Scalar())
	case schema.KindRef:
		return fmt.Sprintf("ref(%s)", d.Target())
	case schema.KindArray:
		if d.Items() != nil {
			return fmt.Sprintf("array(%s)", typeName(d.Items()))
		}
	}
	return d.Kind().String()
}

func flags(d *schema.Descriptor) []string {
	out := []string{}
	if d.Required() {
		out = append(out, "required")
	}
	if d.Unique() {
		out = append(out, "unique")
	}
	if d.Hidden() {
		out = append(out, "hidden")
	}
	if d.IsReserved() {
		out = append(out, "reserved")
	}
	return out
}
