package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/output"
	intconfig "github.com/leapstack-labs/manifold/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new Manifold project",
		Long: `Initialize a new Manifold project with a configuration and a sample manifest.

This creates:
  - manifold.yaml with a SQLite backend under .manifold/
  - models.yaml declaring two related models
  - .gitignore excluding local backend data`,
		Example: `  # Initialize in current directory
  manifold init

  # Initialize in a new directory
  manifold init my-project

  # Force overwrite existing config
  manifold init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			mode := output.ModeAuto
			if cfg := config.GetCurrentConfig(); cfg != nil {
				mode = output.Mode(cfg.OutputFormat)
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, intconfig.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", intconfig.ConfigFileName)
	}

	files, err := scaffold("minimal", dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	for _, f := range files {
		r.Printf("  %-9s %s\n", f.Action, f.Path)
	}

	r.Println("")
	r.Println("Manifold project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Declare your models in models.yaml")
	r.Println("  2. Run 'manifold migrate' to create storage")
	r.Println("  3. Run 'manifold push' to load records")
	r.Println("  4. Run 'manifold get <model>' to query them")

	return nil
}
