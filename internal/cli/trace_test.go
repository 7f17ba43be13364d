package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entsync/internal/harness"
)

func executeTrace(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func decodeTrace(t *testing.T, out string) TraceResult {
	t.Helper()
	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTraceJSON(t *testing.T) {
	out, err := executeTrace(t, &RootOptions{Format: "json"}, filepath.Join(scenariosDir, "upgrade_rename.yaml"))
	require.NoError(t, err)

	result := decodeTrace(t, out)
	assert.Equal(t, "upgrade_rename", result.Scenario)
	require.Len(t, result.Timeline, 2)
	assert.Equal(t, "upgrade_actions", result.Timeline[0].Op)
	assert.Equal(t, 1, result.Timeline[0].UpgradeIndex)
	assert.Equal(t, "update_actions", result.Timeline[1].Op)
	assert.Equal(t, []harness.RecordSnapshot{{ID: "a1", State: "ready"}}, result.Records)
	assert.Equal(t, TraceStats{
		TotalCalls: 2,
		ByOp:       map[string]int{"upgrade_actions": 1, "update_actions": 1},
		Pass:       true,
	}, result.Stats)
}

func TestTraceFilterByOp(t *testing.T) {
	out, err := executeTrace(t, &RootOptions{Format: "json"},
		filepath.Join(scenariosDir, "upgrade_rename.yaml"), "--op", "update_actions")
	require.NoError(t, err)

	result := decodeTrace(t, out)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, []string{"a1"}, result.Timeline[0].IDs)
}

func TestTraceText(t *testing.T) {
	out, err := executeTrace(t, &RootOptions{Format: "text", Verbose: true},
		filepath.Join(scenariosDir, "upgrade_rename.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: upgrade_rename")
	assert.Contains(t, out, "[step 1] upgrade_actions")
	assert.Contains(t, out, "→ index 1")
	assert.Contains(t, out, "a1: map[text:hello]")
	assert.Contains(t, out, "a1: ready")
	assert.Contains(t, out, "Stats: 2 call(s), update_actions=1, upgrade_actions=1, 0 delete(s)")
}

func TestTraceMissingScenario(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"}, filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFilterTrace(t *testing.T) {
	trace := []harness.TraceEvent{
		{Step: 1, Op: "update_actions", IDs: []string{"a1", "a2"}},
		{Step: 2, Op: "update_feedbacks", IDs: []string{"f1"}, Deletes: []string{"f1"}},
		{Step: 3, Op: "update_actions", IDs: []string{"a2"}},
	}

	assert.Len(t, filterTrace(trace, "", ""), 3)
	assert.Len(t, filterTrace(trace, "update_actions", ""), 2)
	assert.Len(t, filterTrace(trace, "", "a2"), 2)
	assert.Empty(t, filterTrace(trace, "update_feedbacks", "a1"))

	stats := traceStats(trace, false)
	assert.Equal(t, 3, stats.TotalCalls)
	assert.Equal(t, 1, stats.Deletes)
	assert.Equal(t, 2, stats.ByOp["update_actions"])
}
