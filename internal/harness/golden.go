package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/entsync/internal/ir"
)

// Snapshot is the golden form of a scenario run: the host calls in order
// and the final tracking records.
type Snapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []TraceEvent     `json:"trace"`
	Records      []RecordSnapshot `json:"records"`
}

// toCanonicalMap converts a Snapshot to plain maps and slices for
// ir.MarshalCanonical, which only accepts IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step": ev.Step,
			"op":   ev.Op,
			"ids":  stringsToAny(ev.IDs),
		}
		if len(ev.Deletes) > 0 {
			m["deletes"] = stringsToAny(ev.Deletes)
		}
		if ev.UpgradeIndex != 0 {
			m["upgrade_index"] = ev.UpgradeIndex
		}
		if len(ev.Options) > 0 {
			m["options"] = ev.Options
		}
		traceList[i] = m
	}

	records := make([]any, len(s.Records))
	for i, r := range s.Records {
		records[i] = map[string]any{"id": r.ID, "state": r.State}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"records":       records,
	}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	s := Snapshot{ScenarioName: name, Trace: result.Trace, Records: result.Records}
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
