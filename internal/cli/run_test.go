package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
database: from-file.db
manifests: ./from-file
metrics:
  listen: ":9100"
engine:
  batch_size: 10
`)

	cfg, err := loadRunConfig(&RunOptions{Config: path, Database: "flag.db"})
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.Database)
	assert.Equal(t, "./from-file", cfg.Manifests)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, 10, cfg.Engine.BatchSize)

	cfg, err = loadRunConfig(&RunOptions{Config: path, Manifests: "m", MetricsListen: ":0"})
	require.NoError(t, err)
	assert.Equal(t, "m", cfg.Manifests)
	assert.Equal(t, ":0", cfg.Metrics.Listen)
}

func TestLoadRunConfig_Defaults(t *testing.T) {
	cfg, err := loadRunConfig(&RunOptions{Manifests: "m"})
	require.NoError(t, err)
	assert.Equal(t, "entsync.db", cfg.Database)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadRunConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts *RunOptions
		want string
	}{
		{name: "no manifests", opts: &RunOptions{}, want: "manifests"},
		{name: "missing file", opts: &RunOptions{Config: filepath.Join(t.TempDir(), "none.yaml")}, want: "read config"},
		{name: "unknown key", opts: &RunOptions{Config: writeConfig(t, "bogus: 1\n")}, want: "bogus"},
		{name: "bad batch size", opts: &RunOptions{Config: writeConfig(t, "manifests: m\nengine:\n  batch_size: 0\n")}, want: "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRunConfig(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunHub_StopsOnCancel(t *testing.T) {
	dir := writeManifestDir(t, testManifest)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)
	cmd.SetArgs([]string{"--manifests", dir, "--db", ":memory:"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Hub started with 1 connection(s)")
}

func TestRunHub_UnknownConfigConnection(t *testing.T) {
	dir := writeManifestDir(t, testManifest)
	path := writeConfig(t, `
connections:
  obs:
    command: ["obs-module"]
`)

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--manifests", dir, "--db", ":memory:"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `config connection "obs" has no manifest`)
}

func TestRunHub_InvalidConfig(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", ":memory:"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
