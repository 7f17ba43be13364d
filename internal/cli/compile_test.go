package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entsync/internal/ir"
)

func executeCompile(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompileText(t *testing.T) {
	out, err := executeCompile(t, "text", writeManifestDir(t, testManifest))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 connection(s)")
	assert.Contains(t, out, "atem (ATEM): 2 action(s), 1 feedback(s), upgrade index 2")
}

func TestCompileJSON(t *testing.T) {
	out, err := executeCompile(t, "json", writeManifestDir(t, testManifest))
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Connections, 1)

	m := resp.Data.Connections[0]
	assert.Equal(t, "atem", m.ID)
	assert.Equal(t, 2, m.UpgradeIndex)
	require.Len(t, m.Feedbacks, 1)
	assert.Equal(t, ir.FeedbackAdvanced, m.Feedbacks[0].FeedbackType)
}

func TestCompileWritesOutputFile(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "definitions.json")
	out, err := executeCompile(t, "text", writeManifestDir(t, testManifest), "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote definitions to "+outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Connections, 1)
	assert.Len(t, result.Connections[0].Actions, 2)
}

func TestCompileRejectsInvalidManifest(t *testing.T) {
	out, err := executeCompile(t, "text", writeManifestDir(t, duplicateFieldManifest))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, "E205")
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := executeCompile(t, "json", writeManifestDir(t, `connection: x: {`))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
