package commands

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/manifold/pkg/engine"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// NewFileCommand creates the file command with its subcommands.
func NewFileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Read, write or delete file property content",
		Long: `Manage the content of file properties.

File content lives in the record's backend, or in the backend named on the
property. The record keeps the file name, content type and size.`,
	}

	cmd.AddCommand(newFileGetCommand())
	cmd.AddCommand(newFilePutCommand())
	cmd.AddCommand(newFileDeleteCommand())

	return cmd
}

func newFileGetCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <model> <id> <property>",
		Short: "Write file content to stdout or a file",
		Example: `  # To stdout
  manifold file get docs/note 4f1c... attachment

  # To a file
  manifold file get docs/note 4f1c... attachment --out note.pdf`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFileGet(cmd, schema.ModelID(args[0]), args[1], args[2], out)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Write content to this path instead of stdout")

	return cmd
}

func runFileGet(cmd *cobra.Command, model schema.ModelID, id, prop, out string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	w := cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	return cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		file, err := cmdCtx.Engine.ReadFile(x, model, id, prop)
		if err != nil {
			return err
		}
		defer func() { _ = file.Body.Close() }()
		if _, err := io.Copy(w, file.Body); err != nil {
			return fmt.Errorf("failed to copy file content: %w", err)
		}
		return nil
	})
}

func newFilePutCommand() *cobra.Command {
	var contentType, name string

	cmd := &cobra.Command{
		Use:   "put <model> <id> <property> <path>",
		Short: "Store file content from a local file or stdin",
		Example: `  # From a file, content type from the extension
  manifold file put docs/note 4f1c... attachment report.pdf

  # From stdin
  cat a.txt | manifold file put docs/note 4f1c... attachment - --name a.txt --content-type text/plain`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilePut(cmd, schema.ModelID(args[0]), args[1], args[2], args[3], name, contentType)
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (default: from the file extension)")
	cmd.Flags().StringVar(&name, "name", "", "File name (default: base name of the path)")

	return cmd
}

func runFilePut(cmd *cobra.Command, model schema.ModelID, id, prop, path, name, contentType string) error {
	var body io.ReadCloser
	var size int64 = -1
	if path == "-" {
		body = io.NopCloser(cmd.InOrStdin())
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		body = f
		if name == "" {
			name = filepath.Base(path)
		}
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		_ = body.Close()
		return err
	}
	defer cleanup()

	var rec engine.Record
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		rec, err = cmdCtx.Engine.WriteFile(x, model, id, prop, &engine.File{
			Name:        name,
			ContentType: contentType,
			Size:        size,
			Body:        body,
		})
		return err
	})
	if err != nil {
		return err
	}
	return renderRecord(cmdCtx.Renderer, rec)
}

func newFileDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <model> <id> <property>",
		Aliases: []string{"rm"},
		Short:   "Remove file content and clear its metadata",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFileDelete(cmd, schema.ModelID(args[0]), args[1], args[2])
		},
	}
}

func runFileDelete(cmd *cobra.Command, model schema.ModelID, id, prop string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var rec engine.Record
	err = cmdCtx.Run(cmd.Context(), func(x *execution.Context) error {
		var err error
		rec, err = cmdCtx.Engine.DeleteFile(x, model, id, prop)
		return err
	})
	if err != nil {
		return err
	}
	return renderRecord(cmdCtx.Renderer, rec)
}
