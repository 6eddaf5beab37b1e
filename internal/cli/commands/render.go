package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/manifold/internal/cli/output"
	"github.com/leapstack-labs/manifold/pkg/engine"
)

// recordColumns lead every record table.
var recordColumns = []string{"_id", "_revision"}

// renderPage writes a page of records. Text and markdown modes print the
// paging token under the table.
func renderPage(r *output.Renderer, page *engine.Page) error {
	if r.EffectiveMode() == output.ModeJSON {
		if page.Records == nil {
			page.Records = []engine.Record{}
		}
		return r.JSON(page)
	}
	r.Records(recordColumns, page.Records)
	if page.Next != "" {
		r.Printf("next: %s\n", page.Next)
	}
	return nil
}

// renderRecord writes a single record.
func renderRecord(r *output.Renderer, rec engine.Record) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(rec)
	}
	r.Records(recordColumns, []map[string]any{rec})
	return nil
}

// readInput returns the content of path, or stdin when path is "-" or
// empty.
func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
