package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/testutil"
)

// execute loads the project config in dir and runs cmd with args.
func execute(t *testing.T, dir string, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	_, err := config.LoadConfig(filepath.Join(dir, "manifold.yaml"), nil)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err = cmd.Execute()
	return buf.String(), err
}

const seedBatch = `
- op: insert
  model: geo/country
  id: lt
  data: {code: lt, name: Lithuania}
- op: insert
  model: geo/city
  id: vno
  data: {name: Vilnius, population: 580000, country: lt}
- op: insert
  model: geo/city
  id: kns
  data: {name: Kaunas, population: 300000, country: lt}
`

// seedProject migrates the test project and loads three records.
func seedProject(t *testing.T) string {
	t.Helper()
	dir := testutil.SetupTestProject(t)

	_, err := execute(t, dir, NewMigrateCommand())
	require.NoError(t, err)

	path := testutil.WriteFile(t, dir, "seed.yaml", seedBatch)
	out, err := execute(t, dir, NewPushCommand(), path)
	require.NoError(t, err)
	require.Contains(t, out, "3 succeeded, 0 failed")
	return dir
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{cmd: NewGetCommand(), use: "get <model> [id]", flags: []string{"query", "stream"}},
		{cmd: NewPushCommand(), use: "push [file]", flags: []string{"atomic"}},
		{cmd: NewWipeCommand(), use: "wipe [model]", flags: []string{"all"}},
		{cmd: NewChangesCommand(), use: "changes <model>", flags: []string{"since", "limit"}},
		{cmd: NewPlanCommand(), use: "plan <model> [query]"},
		{cmd: NewParseCommand(), use: "parse <query>"},
		{cmd: NewMigrateCommand(), use: "migrate"},
		{cmd: NewListCommand(), use: "list [model]"},
		{cmd: NewDoctorCommand(), use: "doctor"},
		{cmd: NewFileCommand(), use: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}

	t.Run("file subcommands", func(t *testing.T) {
		names := make([]string, 0, 3)
		for _, c := range NewFileCommand().Commands() {
			names = append(names, c.Name())
		}
		assert.ElementsMatch(t, []string{"get", "put", "delete"}, names)
	})
}

func TestGetCommand(t *testing.T) {
	dir := seedProject(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
		fail    bool
		wantErr string
	}{
		{
			name: "one record",
			args: []string{"geo/city", "vno"},
			want: []string{"| _id | _revision |", "Vilnius", "(1 rows)"},
		},
		{
			name:    "filtered list",
			args:    []string{"geo/city", "-q", "population>400000"},
			want:    []string{"Vilnius", "(1 rows)"},
			notWant: []string{"Kaunas"},
		},
		{
			name: "sorted projection",
			args: []string{"geo/city", "-q", "select(name)&sort(-population)"},
			want: []string{"| Vilnius |", "| Kaunas |"},
		},
		{
			name: "stream",
			args: []string{"geo/city", "--stream"},
			want: []string{"Vilnius", "Kaunas", "(2 rows)"},
		},
		{
			name:    "missing record",
			args:    []string{"geo/city", "nope"},
			fail:    true,
			wantErr: "nope",
		},
		{
			name: "syntax error",
			args: []string{"geo/city", "-q", "sort("},
			fail: true,
		},
		{
			name:    "unknown model",
			args:    []string{"geo/town"},
			fail:    true,
			wantErr: "geo/town",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, dir, NewGetCommand(), tt.args...)
			if tt.fail {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, out, w)
			}
			testutil.AssertNoANSI(t, out)
		})
	}
}

func TestGetCommand_JSON(t *testing.T) {
	dir := seedProject(t)
	t.Setenv("MANIFOLD_OUTPUT", "json")

	out, err := execute(t, dir, NewGetCommand(), "geo/city", "-q", "sort(name)&limit(1)")
	require.NoError(t, err)

	var page struct {
		Data []map[string]any `json:"_data"`
		Next string           `json:"_next"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Kaunas", page.Data[0]["name"])
	assert.NotEmpty(t, page.Next, "a truncated page carries a token")

	t.Run("stream as json lines", func(t *testing.T) {
		out, err := execute(t, dir, NewGetCommand(), "geo/city", "--stream")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.Len(t, lines, 2)
		for _, line := range lines {
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			assert.NotEmpty(t, rec["_id"])
		}
	})
}

func TestPushCommand_PartialFailure(t *testing.T) {
	dir := seedProject(t)

	path := testutil.WriteFile(t, dir, "batch.yaml", `
- op: insert
  model: geo/city
  id: kln
  data: {name: Klaipeda, population: 150000}
- op: insert
  model: geo/city
  data: {population: 1}
- op: patch
  model: geo/city
  id: vno
  data: {population: 590000}
`)
	out, err := execute(t, dir, NewPushCommand(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 items failed")
	assert.Contains(t, out, "2 succeeded, 1 failed")
	assert.Contains(t, out, "| 1 | insert | geo/city |")

	out, err = execute(t, dir, NewGetCommand(), "geo/city", "-q", "population>=590000")
	require.NoError(t, err)
	assert.Contains(t, out, "Vilnius")

	out, err = execute(t, dir, NewGetCommand(), "geo/city", "kln")
	require.NoError(t, err)
	assert.Contains(t, out, "Klaipeda")
}

func TestPushCommand_Atomic(t *testing.T) {
	dir := seedProject(t)

	path := testutil.WriteFile(t, dir, "batch.json", `[
  {"op": "insert", "model": "geo/city", "id": "kln", "data": {"name": "Klaipeda"}},
  {"op": "insert", "model": "geo/city", "data": {"population": 1}}
]`)
	_, err := execute(t, dir, NewPushCommand(), "--atomic", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch item 1")

	_, err = execute(t, dir, NewGetCommand(), "geo/city", "kln")
	require.Error(t, err, "atomic batch must roll back the first insert")
}

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr string
	}{
		{name: "yaml", input: "- {op: upsert, model: geo/city, id: a, data: {name: A}}", wantLen: 1},
		{name: "json", input: `[{"op":"DELETE","model":"geo/city","id":"a"}]`, wantLen: 1},
		{name: "empty", input: "", wantLen: 0},
		{name: "unknown op", input: "- {op: merge, model: geo/city}", wantErr: `item 0: unknown operation "merge"`},
		{name: "missing model", input: "- {op: insert}", wantErr: "item 0: model is required"},
		{name: "not a list", input: "op: insert", wantErr: "invalid batch input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseBatch([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.wantLen)
		})
	}
}

func TestWipeCommand(t *testing.T) {
	dir := seedProject(t)

	_, err := execute(t, dir, NewWipeCommand())
	require.Error(t, err)

	_, err = execute(t, dir, NewWipeCommand(), "--all", "geo/city")
	require.Error(t, err)

	out, err := execute(t, dir, NewWipeCommand(), "geo/city")
	require.NoError(t, err)
	assert.Contains(t, out, "| geo/city | 2 |")

	out, err = execute(t, dir, NewWipeCommand(), "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "| geo/country | 1 |")
	assert.Contains(t, out, "| geo/city | 0 |")
	assert.Contains(t, out, "| docs/note | 0 |")

	out, err = execute(t, dir, NewGetCommand(), "geo/country")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

// Every command runs with freshly connected backends, so the memory backend
// never sees the collections created by an earlier migrate.
func TestMemoryBackendWithoutMigrate(t *testing.T) {
	dir := seedProject(t)

	out, err := execute(t, dir, NewGetCommand(), "docs/note")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")

	path := testutil.WriteFile(t, dir, "notes.yaml", "- {op: insert, model: docs/note, data: {title: hello}}\n")
	out, err = execute(t, dir, NewPushCommand(), path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 succeeded, 0 failed")

	out, err = execute(t, dir, NewWipeCommand(), "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "| geo/city | 2 |")
	assert.Contains(t, out, "| docs/note | 0 |")
}

func TestChangesCommand(t *testing.T) {
	dir := seedProject(t)

	out, err := execute(t, dir, NewChangesCommand(), "geo/city")
	require.NoError(t, err)
	assert.Contains(t, out, "vno")
	assert.Contains(t, out, "kns")
	assert.Contains(t, out, "(2 rows)")

	out, err = execute(t, dir, NewChangesCommand(), "geo/city", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 rows)")
}

func TestPlanCommand(t *testing.T) {
	dir := seedProject(t)

	out, err := execute(t, dir, NewPlanCommand(), "geo/city", "population>1000&sort(name)")
	require.NoError(t, err)
	assert.Contains(t, out, "## Plan: geo/city")
	assert.Contains(t, out, "plan geo/city on relational")
	testutil.AssertValidMarkdown(t, out)

	t.Run("json", func(t *testing.T) {
		t.Setenv("MANIFOLD_OUTPUT", "json")
		out, err := execute(t, dir, NewPlanCommand(), "geo/city")
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "geo/city", got["model"])
		assert.Equal(t, "relational", got["backend"])
	})

	t.Run("semantic error", func(t *testing.T) {
		_, err := execute(t, dir, NewPlanCommand(), "geo/city", "nosuch=1")
		require.Error(t, err)
	})
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "filter", args: []string{"population>1000"}},
		{name: "joined arguments", args: []string{"name=\"Vilnius\"", "limit(5)"}},
		{name: "syntax error", args: []string{"sort("}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewParseCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			// The canonical form parses back to itself.
			first := strings.TrimSpace(buf.String())
			require.NotEmpty(t, first)
			buf.Reset()
			cmd = NewParseCommand()
			cmd.SetOut(buf)
			cmd.SetArgs([]string{first})
			require.NoError(t, cmd.Execute())
			assert.Equal(t, first, strings.TrimSpace(buf.String()))
		})
	}
}

func TestListCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := execute(t, dir, NewListCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "| geo/city | main |")
	assert.Contains(t, out, "| docs/note | docs |")
	assert.Contains(t, out, "(3 rows)")
	assert.Less(t, strings.Index(out, "| geo/country |"), strings.Index(out, "| geo/city |"), "referenced models come first")

	out, err = execute(t, dir, NewListCommand(), "geo/city")
	require.NoError(t, err)
	assert.Contains(t, out, "ref(geo/country)")
	assert.Contains(t, out, "sensitive(string)")
	assert.Contains(t, out, "required")

	out, err = execute(t, dir, NewListCommand(), "docs/note")
	require.NoError(t, err)
	assert.Contains(t, out, "array(string)")
	assert.Contains(t, out, "meta.lang")

	_, err = execute(t, dir, NewListCommand(), "geo/town")
	require.Error(t, err)
}

func TestFileCommand_NotAFileProperty(t *testing.T) {
	dir := seedProject(t)

	_, err := execute(t, dir, NewFileCommand(), "get", "geo/city", "vno", "name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a file property")
}

func TestMissingManifest(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	testutil.WriteFile(t, dir, "manifold.yaml", "manifest: nowhere.yaml\nbackends:\n  main: {type: memory}\n")

	_, err := execute(t, dir, NewMigrateCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest does not exist")
}
