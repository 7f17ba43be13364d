package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inlineManifest = `
connection: atem: {
	label:         "ATEM"
	upgrade_index: 1
	action: send: fields: [{id: "text", type: "textinput", use_variables: true}]
	feedback: preview: {
		type: "advanced"
		fields: [{id: "label", type: "textinput", use_variables: true}]
	}
}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "upgrade_rename.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "upgrade_rename", scenario.Name)
	assert.Equal(t, filepath.Join("testdata", "manifests", "atem.cue"), scenario.Manifest)
	require.Len(t, scenario.Host.ActionScripts, 1)
	require.NotNil(t, scenario.Host.ActionScripts[0].Rename)
	assert.Equal(t, "msg", scenario.Host.ActionScripts[0].Rename.From)

	require.Len(t, scenario.Entities, 1)
	e := scenario.Entities[0]
	assert.Equal(t, "a1", e.ID)
	require.NotNil(t, e.UpgradeIndex)
	assert.Equal(t, 0, *e.UpgradeIndex)
	assert.Equal(t, "$(internal:greeting)", e.Options["msg"])

	require.Len(t, scenario.Steps, 2)
	assert.NotNil(t, scenario.Steps[0].Start)
	assert.NotNil(t, scenario.Steps[1].Settle)
	assert.Len(t, scenario.Assertions, 5)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/does-not-exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	content := `
name: s
description: d
manifest: nowhere.cue
steps:
  - start: {}
assertions:
  - { type: call_count, op: update_actions, count: 0 }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest file not found")
}

func TestParseScenario_Errors(t *testing.T) {
	header := "name: s\ndescription: d\nmanifest_source: x\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nmanifest_source: x\nsteps: [{start: {}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "name is required",
		},
		{
			name: "both manifests",
			yaml: "name: s\ndescription: d\nmanifest: a.cue\nmanifest_source: x\nsteps: [{start: {}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "exactly one of manifest and manifest_source",
		},
		{
			name: "no steps",
			yaml: header + "assertions: [{type: record_state, id: a, state: ready}]\n",
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: header + "steps: [{start: {}}]\n",
			want: "assertions list is required",
		},
		{
			name: "unknown field",
			yaml: header + "step: [{start: {}}]\n",
			want: "failed to parse YAML",
		},
		{
			name: "two actions in one step",
			yaml: header + "steps: [{start: {}, settle: {}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "exactly one action per step, got 2",
		},
		{
			name: "empty step",
			yaml: header + "steps: [{}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "exactly one action per step, got 0",
		},
		{
			name: "bad entity kind",
			yaml: header + "entities: [{id: a, kind: widget, control: c, definition: d}]\nsteps: [{start: {}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "kind must be action or feedback",
		},
		{
			name: "partial track",
			yaml: header + "steps: [{track: {id: a, control: c}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "kind must be action or feedback",
		},
		{
			name: "bad duration",
			yaml: header + "steps: [{advance: {duration: soon}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "advance:",
		},
		{
			name: "unknown reject op",
			yaml: header + "steps: [{reject: {op: update_widgets}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: `reject: unknown op "update_widgets"`,
		},
		{
			name: "two scripts in one",
			yaml: header + "host: {action_scripts: [{noop: true, rename: {definition: d, from: a, to: b}}]}\nsteps: [{start: {}}]\nassertions: [{type: record_state, id: a, state: ready}]\n",
			want: "exactly one of rename, default, noop",
		},
		{
			name: "unknown assertion type",
			yaml: header + "steps: [{start: {}}]\nassertions: [{type: eventually}]\n",
			want: `unknown assertion type "eventually"`,
		},
		{
			name: "call_count unknown op",
			yaml: header + "steps: [{start: {}}]\nassertions: [{type: call_count, op: nope}]\n",
			want: `unknown op "nope"`,
		},
		{
			name: "sent_option without key",
			yaml: header + "steps: [{start: {}}]\nassertions: [{type: sent_option, id: a}]\n",
			want: "id and key are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_BareTrackRetracks(t *testing.T) {
	data := "name: s\ndescription: d\nmanifest_source: x\nsteps: [{track: {id: a1}}]\nassertions: [{type: record_state, id: a1, state: ready}]\n"

	scenario, err := ParseScenario([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, scenario.Steps[0].Track)
	assert.Equal(t, "a1", scenario.Steps[0].Track.ID)
	assert.Empty(t, scenario.Steps[0].Track.Kind)
}
