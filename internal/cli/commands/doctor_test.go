package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/internal/cli/config"
	"github.com/leapstack-labs/manifold/internal/cli/testutil"
	intconfig "github.com/leapstack-labs/manifold/internal/config"
	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		checks    []HealthCheck
		wantErrs  int
		wantWarns int
	}{
		{name: "no checks", checks: nil},
		{
			name:   "all passing",
			checks: []HealthCheck{{Status: StatusPass}, {Status: StatusPass}},
		},
		{
			name:      "mixed",
			checks:    []HealthCheck{{Status: StatusWarn}, {Status: StatusError}, {Status: StatusWarn}},
			wantErrs:  1,
			wantWarns: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := summarize(tt.checks)
			assert.Equal(t, tt.wantErrs, out.Errors)
			assert.Equal(t, tt.wantWarns, out.Warns)
		})
	}
}

func TestSchemaChecks(t *testing.T) {
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID:         "geo/city",
		Properties: []schema.PropertySpec{{Name: "name", Type: "string"}},
	}))
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID:         "docs/note",
		Backend:    "docs",
		Properties: []schema.PropertySpec{{Name: "title", Type: "string"}},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)

	cfg := &config.Config{Config: intconfig.Config{
		DefaultBackend: "main",
		Backends: map[string]adapter.Config{
			"main":  {Type: "sqlite"},
			"spare": {Type: "memory"},
		},
	}}

	checks := schemaChecks(cfg, g)
	byName := make(map[string]HealthCheck)
	for _, c := range checks {
		byName[c.Name] = c
	}

	routing := byName["backend routing"]
	assert.Equal(t, StatusError, routing.Status)
	assert.Equal(t, []string{`docs/note uses undeclared backend "docs"`}, routing.Details)

	unused := byName["unused backends"]
	assert.Equal(t, StatusWarn, unused.Status)
	assert.Equal(t, []string{`backend "spare" has no models`}, unused.Details)

	assert.Equal(t, StatusPass, byName["models"].Status)
	assert.Equal(t, StatusPass, byName["reference cycles"].Status)
}

func TestGroupChecks(t *testing.T) {
	order, groups := groupChecks([]HealthCheck{
		{Group: "schema", Name: "a"},
		{Group: "backends", Name: "b"},
		{Group: "schema", Name: "c"},
	})
	assert.Equal(t, []string{"schema", "backends"}, order)
	assert.Len(t, groups["schema"], 2)
}

func TestDoctorCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := execute(t, dir, NewDoctorCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "# Doctor")
	assert.Contains(t, out, "## Backends")
	assert.Contains(t, out, "- **main**: pass (sqlite)")
	assert.Contains(t, out, "0 error(s)")
	testutil.AssertValidMarkdown(t, out)

	t.Run("json", func(t *testing.T) {
		t.Setenv("MANIFOLD_OUTPUT", "json")
		out, err := execute(t, dir, NewDoctorCommand())
		require.NoError(t, err)

		var got DoctorOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Zero(t, got.Errors)
		assert.NotEmpty(t, got.Checks)
	})

	t.Run("undeclared backend fails", func(t *testing.T) {
		testutil.WriteFile(t, dir, "manifold.yaml", "manifest: models.yaml\nbackends:\n  main: {type: memory}\n")
		out, err := execute(t, dir, NewDoctorCommand())
		require.Error(t, err)
		assert.Contains(t, out, `docs/note uses undeclared backend "docs"`)
	})
}

func TestSchemaChecks_ReferenceCycle(t *testing.T) {
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID:         "org/team",
		Properties: []schema.PropertySpec{{Name: "lead", Type: "ref", Model: "org/person"}},
	}))
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID:         "org/person",
		Properties: []schema.PropertySpec{{Name: "team", Type: "ref", Model: "org/team"}},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)

	cfg := &config.Config{Config: intconfig.Config{
		DefaultBackend: "main",
		Backends:       map[string]adapter.Config{"main": {Type: "memory"}},
	}}

	for _, c := range schemaChecks(cfg, g) {
		if c.Name != "reference cycles" {
			continue
		}
		assert.Equal(t, StatusWarn, c.Status)
		assert.Equal(t, []string{"reference cycle: org/person -> org/team -> org/person"}, c.Details)
		return
	}
	t.Fatal("reference cycles check missing")
}
