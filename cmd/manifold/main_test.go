// Package main provides tests for the Manifold CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/manifold/internal/cli"
	"github.com/leapstack-labs/manifold/internal/cli/config"
)

func testdataDir(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	return filepath.Join(wd, "..", "..", "testdata")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	output, err := execute(t, "version")
	if err != nil {
		t.Errorf("version command error = %v", err)
	}
	if !strings.Contains(output, "Manifold") {
		t.Errorf("version output should contain 'Manifold', got: %s", output)
	}
}

func TestHelpCommand(t *testing.T) {
	output, err := execute(t, "--help")
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	expectedCommands := []string{"get", "push", "wipe", "migrate", "changes", "file", "plan", "parse", "doctor"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := execute(t, "frobnicate"); err == nil {
		t.Error("expected an error for an unknown command")
	}
}

func TestEndToEnd(t *testing.T) {
	src := filepath.Join(testdataDir(t), "project")
	dir := t.TempDir()
	for _, name := range []string{"manifold.yaml", "models.yaml"} {
		data, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			t.Fatalf("failed to read %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	cfg := filepath.Join(dir, "manifold.yaml")
	batch := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(batch, []byte(`[
  {"op": "upsert", "model": "geo/country", "id": "lv", "data": {"code": "lv", "name": "Latvia"}},
  {"op": "insert", "model": "geo/city", "id": "rix", "data": {"name": "Riga", "population": 600000, "country": "lv"}}
]`), 0600); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		args []string
		want string
	}{
		{args: []string{"migrate"}, want: "geo/city"},
		{args: []string{"push", batch}, want: "2 succeeded, 0 failed"},
		{args: []string{"get", "geo/city", "-q", "country.code=\"lv\"&select(name,country.name)"}, want: "Latvia"},
		{args: []string{"get", "geo/city", "rix", "-o", "json"}, want: `"name": "Riga"`},
		{args: []string{"changes", "geo/country"}, want: "lv"},
		{args: []string{"wipe", "--all"}, want: "geo/country"},
	}
	for _, st := range steps {
		output, err := execute(t, append([]string{"--config", cfg}, st.args...)...)
		if err != nil {
			t.Fatalf("%v: %v\n%s", st.args, err, output)
		}
		if !strings.Contains(output, st.want) {
			t.Errorf("%v: output should contain %q, got: %s", st.args, st.want, output)
		}
	}
}
