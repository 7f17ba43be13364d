package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out, err := executeTest(t, "text", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ upgrade_rename")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	out, err := executeTest(t, "json", scenariosDir)
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Data.Total)
	assert.Equal(t, 4, resp.Data.Passed)
}

func TestTestCommandFilter(t *testing.T) {
	out, err := executeTest(t, "text", scenariosDir, "--filter", "upgrade_*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.NotContains(t, out, "variable_change")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := executeTest(t, "text", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	golden := t.TempDir()
	scenario := filepath.Join(scenariosDir, "variable_change.yaml")

	out, err := executeTest(t, "text", scenario, "--update", "--golden", golden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "(golden updated)")
	assert.FileExists(t, filepath.Join(golden, "variable_change.golden"))

	out, err = executeTest(t, "text", scenario, "--golden", golden)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(filepath.Join(golden, "variable_change.golden"), []byte("{}"), 0o644))
	out, err = executeTest(t, "text", scenario, "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandMissingPath(t *testing.T) {
	_, err := executeTest(t, "text", filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDirectory(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("suite", "golden", "a.golden"),
		goldenFilePath("", filepath.Join("suite", "scenarios", "a.yaml"), "a"))
	assert.Equal(t, filepath.Join("out", "a.golden"), goldenFilePath("out", "x/a.yaml", "a"))
}

func TestFilterScenarioFiles(t *testing.T) {
	files := []string{"s/upgrade_rename.yaml", "s/variable_change.yml", "s/upgrade_rejected.yaml"}

	got, err := filterScenarioFiles(files, "")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	got, err = filterScenarioFiles(files, "upgrade_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/upgrade_rename.yaml", "s/upgrade_rejected.yaml"}, got)
}
