package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entsync/internal/testutil"
)

// Scenario defines an engine conformance scenario: an initial store, a
// list of steps driven through the hub, and assertions on the host calls
// and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is a path to a CUE manifest file, relative to the scenario
	// file. Exactly one of Manifest and ManifestSource is set.
	Manifest string `yaml:"manifest,omitempty"`

	// ManifestSource is inline CUE.
	ManifestSource string `yaml:"manifest_source,omitempty"`

	// Connection selects the connection under test. It may be omitted
	// when the manifest declares exactly one.
	Connection string `yaml:"connection,omitempty"`

	// Engine tuning. Zero values keep the engine defaults.
	BatchSize         int  `yaml:"batch_size,omitempty"`
	DegradationBudget *int `yaml:"degradation_budget,omitempty"`

	// Host configures how the recording host answers upgrade calls.
	Host HostSpec `yaml:"host,omitempty"`

	// Variables are set before the first step.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Entities are in the store before the first step.
	Entities []EntitySpec `yaml:"entities,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// HostSpec lists the upgrade scripts the recording host runs. Without
// scripts the host returns nothing and every batch member is committed as
// already current.
type HostSpec struct {
	ActionScripts   []ScriptSpec `yaml:"action_scripts,omitempty"`
	FeedbackScripts []ScriptSpec `yaml:"feedback_scripts,omitempty"`
}

// ScriptSpec is one upgrade step; exactly one field is set.
type ScriptSpec struct {
	Rename  *RenameScript  `yaml:"rename,omitempty"`
	Default *DefaultScript `yaml:"default,omitempty"`
	Noop    bool           `yaml:"noop,omitempty"`
}

// RenameScript moves an option key.
type RenameScript struct {
	Definition string `yaml:"definition"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

// DefaultScript adds a missing option.
type DefaultScript struct {
	Definition string `yaml:"definition"`
	Key        string `yaml:"key"`
	Value      any    `yaml:"value"`
}

// EntitySpec describes an entity placed on a control.
type EntitySpec struct {
	ID           string         `yaml:"id"`
	Kind         string         `yaml:"kind"`
	Control      string         `yaml:"control"`
	Connection   string         `yaml:"connection,omitempty"`
	Definition   string         `yaml:"definition"`
	Options      map[string]any `yaml:"options,omitempty"`
	UpgradeIndex *int           `yaml:"upgrade_index,omitempty"`
	Inverted     bool           `yaml:"inverted,omitempty"`
}

// Step is one scenario action; exactly one field is set.
type Step struct {
	Start           *struct{}        `yaml:"start,omitempty"`
	Track           *TrackStep       `yaml:"track,omitempty"`
	Forget          *ForgetStep      `yaml:"forget,omitempty"`
	SetVariable     *SetVariableStep `yaml:"set_variable,omitempty"`
	ResendFeedbacks *struct{}        `yaml:"resend_feedbacks,omitempty"`
	SetBitmap       *SetBitmapStep   `yaml:"set_bitmap,omitempty"`
	Advance         *AdvanceStep     `yaml:"advance,omitempty"`
	Resolve         *ResolveStep     `yaml:"resolve,omitempty"`
	Reject          *RejectStep      `yaml:"reject,omitempty"`
	Destroy         *struct{}        `yaml:"destroy,omitempty"`
	Settle          *struct{}        `yaml:"settle,omitempty"`
}

// TrackStep writes an entity to the store, which tracks it. With only ID
// set it rewrites the stored entity, which re-tracks it.
type TrackStep struct {
	EntitySpec `yaml:",inline"`
}

// ForgetStep removes an entity from the store.
type ForgetStep struct {
	ID string `yaml:"id"`
}

// SetVariableStep sets a global variable, or a control-local one when
// Control is set.
type SetVariableStep struct {
	ID      string `yaml:"id"`
	Control string `yaml:"control,omitempty"`
	Value   any    `yaml:"value"`
}

// SetBitmapStep changes a control's render size.
type SetBitmapStep struct {
	Control string `yaml:"control"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

// AdvanceStep moves the manual clock. An empty duration advances past
// the debounce maximum wait.
type AdvanceStep struct {
	Duration string `yaml:"duration,omitempty"`
}

// ResolveStep runs pending host calls. Zero count runs all of them.
type ResolveStep struct {
	Count int `yaml:"count,omitempty"`
}

// RejectStep makes the next Times calls of Op fail.
type RejectStep struct {
	Op    string `yaml:"op"`
	Times int    `yaml:"times,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of call_count, call_sizes, record_state,
	// store_upgrade_index, sent_option.
	Type string `yaml:"type"`

	// Op is the host operation (call_count, call_sizes).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of calls (call_count).
	Count int `yaml:"count,omitempty"`

	// Sizes are the expected batch sizes in order (call_sizes).
	Sizes []int `yaml:"sizes,omitempty"`

	// ID is the entity id (record_state, store_upgrade_index, sent_option).
	ID string `yaml:"id,omitempty"`

	// State is the expected record state, or "absent" (record_state).
	State string `yaml:"state,omitempty"`

	// Index is the expected stored upgrade index; nil expects none
	// (store_upgrade_index).
	Index *int `yaml:"index,omitempty"`

	// Key and Value check the last payload sent for ID (sent_option).
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount         = "call_count"
	AssertCallSizes         = "call_sizes"
	AssertRecordState       = "record_state"
	AssertStoreUpgradeIndex = "store_upgrade_index"
	AssertSentOption        = "sent_option"
)

// StateAbsent is the record_state value for an untracked id.
const StateAbsent = "absent"

var hostOps = map[string]bool{
	testutil.OpUpdateActions:    true,
	testutil.OpUpdateFeedbacks:  true,
	testutil.OpUpgradeActions:   true,
	testutil.OpUpgradeFeedbacks: true,
}

// LoadScenario reads and parses a scenario YAML file. A relative manifest
// path is resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Manifest != "" && !filepath.IsAbs(s.Manifest) {
		s.Manifest = filepath.Join(filepath.Dir(path), s.Manifest)
	}
	if s.Manifest != "" {
		if _, err := os.Stat(s.Manifest); err != nil {
			return nil, fmt.Errorf("invalid scenario: manifest file not found: %s", s.Manifest)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Manifest == "") == (s.ManifestSource == "") {
		return fmt.Errorf("exactly one of manifest and manifest_source is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Entities {
		if err := validateEntity(e, true); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
	}
	for i, sc := range append(append([]ScriptSpec(nil), s.Host.ActionScripts...), s.Host.FeedbackScripts...) {
		n := 0
		if sc.Rename != nil {
			n++
		}
		if sc.Default != nil {
			n++
		}
		if sc.Noop {
			n++
		}
		if n != 1 {
			return fmt.Errorf("host script %d: exactly one of rename, default, noop is required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateEntity(e EntitySpec, full bool) error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !full {
		return nil
	}
	if e.Kind != "action" && e.Kind != "feedback" {
		return fmt.Errorf("kind must be action or feedback, got %q", e.Kind)
	}
	if e.Control == "" {
		return fmt.Errorf("control is required")
	}
	if e.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	for _, present := range []bool{
		step.Start != nil, step.Track != nil, step.Forget != nil,
		step.SetVariable != nil, step.ResendFeedbacks != nil, step.SetBitmap != nil,
		step.Advance != nil, step.Resolve != nil, step.Reject != nil,
		step.Destroy != nil, step.Settle != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action per step, got %d", set)
	}

	switch {
	case step.Track != nil:
		// A bare id re-tracks; anything more must describe a whole entity.
		full := step.Track.Kind != "" || step.Track.Control != "" || step.Track.Definition != ""
		return validateEntity(step.Track.EntitySpec, full)
	case step.Forget != nil && step.Forget.ID == "":
		return fmt.Errorf("forget: id is required")
	case step.SetVariable != nil && step.SetVariable.ID == "":
		return fmt.Errorf("set_variable: id is required")
	case step.SetBitmap != nil && step.SetBitmap.Control == "":
		return fmt.Errorf("set_bitmap: control is required")
	case step.Advance != nil && step.Advance.Duration != "":
		if _, err := time.ParseDuration(step.Advance.Duration); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	case step.Reject != nil && !hostOps[step.Reject.Op]:
		return fmt.Errorf("reject: unknown op %q", step.Reject.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallCount, AssertCallSizes:
		if !hostOps[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown op %q for %s", index, a.Op, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertRecordState:
		if a.ID == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: id and state are required for record_state", index)
		}
	case AssertStoreUpgradeIndex:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for store_upgrade_index", index)
		}
	case AssertSentOption:
		if a.ID == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: id and key are required for sent_option", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
