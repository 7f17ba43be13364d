package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %v\n", i+1, ev.Step, ev.Op, ev.IDs)
		}
	}
	return buf.String()
}

func assertCallCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Op == a.Op {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%d %s calls", a.Count, a.Op),
		Actual:   fmt.Sprintf("%d calls", n),
		Trace:    trace,
	}
}

func assertCallSizes(trace []TraceEvent, a Assertion) error {
	sizes := []int{}
	for _, ev := range trace {
		if ev.Op == a.Op {
			sizes = append(sizes, len(ev.IDs))
		}
	}
	if slices.Equal(sizes, a.Sizes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallSizes,
		Expected: fmt.Sprintf("%s batch sizes %v", a.Op, a.Sizes),
		Actual:   fmt.Sprintf("%v", sizes),
		Trace:    trace,
	}
}

func assertRecordState(records []RecordSnapshot, a Assertion) error {
	actual := StateAbsent
	for _, r := range records {
		if r.ID == a.ID {
			actual = r.State
			break
		}
	}
	if actual == a.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordState,
		Expected: fmt.Sprintf("record %s in state %s", a.ID, a.State),
		Actual:   actual,
	}
}

func assertStoreUpgradeIndex(st *store.Store, a Assertion) error {
	p, ok := st.Entity(a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertStoreUpgradeIndex,
			Expected: fmt.Sprintf("entity %s in the store", a.ID),
			Actual:   "not found",
		}
	}
	got := p.Entity.UpgradeIndex
	if (got == nil) == (a.Index == nil) && (got == nil || *got == *a.Index) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStoreUpgradeIndex,
		Expected: fmt.Sprintf("entity %s at upgrade index %s", a.ID, formatIndex(a.Index)),
		Actual:   formatIndex(got),
	}
}

func formatIndex(i *int) string {
	if i == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *i)
}

// assertSentOption checks one option of the last payload sent for an id.
// Values are compared after IR normalization so 1 and 1.0 are equal.
func assertSentOption(trace []TraceEvent, a Assertion) error {
	var (
		sent  map[string]any
		found bool
	)
	for i := len(trace) - 1; i >= 0 && !found; i-- {
		if opts, ok := trace[i].Options[a.ID]; ok {
			sent, _ = opts.(map[string]any)
			found = true
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertSentOption,
			Expected: fmt.Sprintf("a payload sent for %s", a.ID),
			Actual:   "none sent",
			Trace:    trace,
		}
	}

	actual, present := sent[a.Key]
	if present && valuesEqual(actual, a.Value) {
		return nil
	}
	got := "missing"
	if present {
		got = fmt.Sprintf("%v", actual)
	}
	return &AssertionError{
		Type:     AssertSentOption,
		Expected: fmt.Sprintf("%s.%s = %v", a.ID, a.Key, a.Value),
		Actual:   got,
		Trace:    trace,
	}
}

func valuesEqual(actual, expected any) bool {
	a, err := ir.FromAny(actual)
	if err != nil {
		return false
	}
	e, err := ir.FromAny(expected)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(a, e)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for store_upgrade_index.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCallCount:
			err = assertCallCount(result.Trace, assertion)
		case AssertCallSizes:
			err = assertCallSizes(result.Trace, assertion)
		case AssertRecordState:
			err = assertRecordState(result.Records, assertion)
		case AssertStoreUpgradeIndex:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: store_upgrade_index requires store context", i)
			} else {
				err = assertStoreUpgradeIndex(actx.Store, assertion)
			}
		case AssertSentOption:
			err = assertSentOption(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
