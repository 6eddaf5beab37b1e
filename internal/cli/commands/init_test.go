package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intconfig "github.com/leapstack-labs/manifold/internal/config"
	"github.com/leapstack-labs/manifold/internal/manifest"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string) // setup before running
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name:      "init empty directory",
			args:      []string{},
			wantFiles: []string{"manifold.yaml", "models.yaml", ".gitignore"},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "manifold.yaml"), []byte("existing"), 0600)
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "manifold.yaml"), []byte("existing"), 0600)
			},
			args:      []string{"--force"},
			wantFiles: []string{"manifold.yaml", "models.yaml"},
		},
		{
			name:      "init into a new directory",
			args:      []string{"sub/project"},
			wantFiles: []string{"sub/project/manifold.yaml", "sub/project/models.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				_, err := os.Stat(filepath.Join(tmpDir, f))
				assert.False(t, os.IsNotExist(err), "expected file %q to exist", f)
			}
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
}

func TestInitCreatesLoadableProject(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir})
	require.NoError(t, cmd.Execute())

	cfg, err := intconfig.Load(filepath.Join(tmpDir, "manifold.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.DefaultBackend)
	assert.Equal(t, "sqlite", cfg.Backends["main"].Type)
	assert.Equal(t, filepath.Join(tmpDir, "models.yaml"), cfg.Manifest)

	g, err := manifest.LoadGraph(cfg.Manifest)
	require.NoError(t, err)
	_, ok := g.Model("example/city")
	assert.True(t, ok)
}

func TestScaffold(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("mine\n"), 0600))

	files, err := scaffold("minimal", dir, false)
	require.NoError(t, err)

	actions := make(map[string]scaffoldAction)
	for _, f := range files {
		actions[f.Path] = f.Action
	}
	assert.Equal(t, map[string]scaffoldAction{
		".gitignore":    scaffoldKept,
		"manifold.yaml": scaffoldCreated,
		"models.yaml":   scaffoldCreated,
	}, actions)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "mine\n", string(data))

	files, err = scaffold("minimal", dir, true)
	require.NoError(t, err)
	for _, f := range files {
		assert.Equal(t, scaffoldOverwritten, f.Action, f.Path)
	}
}

func TestDotfileName(t *testing.T) {
	assert.Equal(t, ".gitignore", dotfileName("gitignore"))
	assert.Equal(t, "sub/.gitignore", dotfileName("sub/gitignore"))
	assert.Equal(t, "models.yaml", dotfileName("models.yaml"))
}
