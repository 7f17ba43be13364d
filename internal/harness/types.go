package harness

// TraceEvent is one host call observed while a scenario ran.
type TraceEvent struct {
	// Step is the index of the scenario step during which the call ran.
	Step int `json:"step"`

	// Op is the host operation, e.g. "update_actions".
	Op string `json:"op"`

	// IDs lists the batch members in order; Deletes the deletion markers.
	IDs     []string `json:"ids"`
	Deletes []string `json:"deletes,omitempty"`

	// UpgradeIndex is the index passed to upgrade calls.
	UpgradeIndex int `json:"upgrade_index,omitempty"`

	// Options maps each subscribed id to its resolved options (updates).
	Options map[string]any `json:"options,omitempty"`
}

// RecordSnapshot is a tracking record at the end of a scenario.
type RecordSnapshot struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every host call in order.
	Trace []TraceEvent `json:"trace"`

	// Records are the final tracking records in tracking order.
	Records []RecordSnapshot `json:"records"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reported holds errors the engine surfaced for the operator.
	Reported []string `json:"reported,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// CallsFor returns the trace events of one operation.
func (r *Result) CallsFor(op string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Op == op {
			out = append(out, ev)
		}
	}
	return out
}
