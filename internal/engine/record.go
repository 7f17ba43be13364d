package engine

import (
	"context"
	"slices"
	"sort"

	"github.com/looplab/fsm"

	"github.com/roach88/entsync/internal/ir"
)

// RecordState is the synchronization state of one tracked entity.
type RecordState string

const (
	// StateUnloaded: the host's view is missing or stale; the next pass
	// resolves and sends the entity, or sends it for upgrade.
	StateUnloaded RecordState = "unloaded"
	// StateUpgrading: an upgrade request for this token is in flight.
	StateUpgrading RecordState = "upgrading"
	// StateUpgradingInvalidated: an upgrade is in flight and something
	// changed meanwhile; the result must be re-resolved, not committed.
	StateUpgradingInvalidated RecordState = "upgrading_invalidated"
	// StateReady: the host's view matches; nothing pending.
	StateReady RecordState = "ready"
	// StatePendingDelete: terminal. Removed on the next pass.
	StatePendingDelete RecordState = "pending_delete"
)

// Transition event names. Each event has exactly one destination state;
// looplab/fsm rejects any event not legal from the current state, which is
// how PendingDelete stays terminal.
const (
	transResolve         = "resolve"          // Unloaded -> Ready
	transUpgrade         = "upgrade"          // Unloaded -> Upgrading
	transInvalidate      = "invalidate"       // Ready -> Unloaded
	transInvalidateAsync = "invalidate_async" // Upgrading -> UpgradingInvalidated
	transUpgraded        = "upgraded"         // Upgrading -> Ready
	transReprocess       = "reprocess"        // UpgradingInvalidated -> Unloaded
	transDegrade         = "degrade"          // Upgrading -> Ready (upgrade call rejected)
	transForget          = "forget"           // any live state -> PendingDelete
)

var recordTransitions = fsm.Events{
	{Name: transResolve, Src: []string{string(StateUnloaded)}, Dst: string(StateReady)},
	{Name: transUpgrade, Src: []string{string(StateUnloaded)}, Dst: string(StateUpgrading)},
	{Name: transInvalidate, Src: []string{string(StateReady)}, Dst: string(StateUnloaded)},
	{Name: transInvalidateAsync, Src: []string{string(StateUpgrading)}, Dst: string(StateUpgradingInvalidated)},
	{Name: transUpgraded, Src: []string{string(StateUpgrading)}, Dst: string(StateReady)},
	{Name: transReprocess, Src: []string{string(StateUpgradingInvalidated)}, Dst: string(StateUnloaded)},
	{Name: transDegrade, Src: []string{string(StateUpgrading)}, Dst: string(StateReady)},
	{Name: transForget, Src: []string{
		string(StateUnloaded),
		string(StateUpgrading),
		string(StateUpgradingInvalidated),
		string(StateReady),
	}, Dst: string(StatePendingDelete)},
}

// record is the engine's private view of one tracked entity.
type record struct {
	id        string
	token     string
	ref       EntityRef
	controlID string
	kind      ir.EntityKind
	machine   *fsm.FSM

	// lastVariableIDs are the variables the resolved options depended on
	// the last time the entity was sent. Empty until first resolution.
	lastVariableIDs map[string]struct{}

	// sentToHost is set once an update for this id reached the host, so a
	// later removal knows to send a deletion marker.
	sentToHost bool

	// budget counts consecutive rejected upgrade calls for this token.
	budget *DegradationBudget
	// degraded marks a Ready record that got there by optimistic advance
	// rather than by a successful upgrade.
	degraded bool
	// exhausted is set once the degradation budget was reported.
	exhausted bool
}

func newRecord(id, token string, ref EntityRef, controlID string, kind ir.EntityKind, budget int) *record {
	return &record{
		id:        id,
		token:     token,
		ref:       ref,
		controlID: controlID,
		kind:      kind,
		machine:   fsm.NewFSM(string(StateUnloaded), recordTransitions, fsm.Callbacks{}),
		budget:    NewDegradationBudget(budget),
	}
}

func (r *record) state() RecordState {
	return RecordState(r.machine.Current())
}

// transition fires a state event, wrapping rejection as ILLEGAL_TRANSITION.
func (r *record) transition(ctx context.Context, event string) error {
	from := r.state()
	if err := r.machine.Event(ctx, event); err != nil {
		return NewIllegalTransitionError(r.id, string(from), event, err)
	}
	return nil
}

func (r *record) referencesAny(ids map[string]struct{}) bool {
	for id := range r.lastVariableIDs {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

func (r *record) info() RecordInfo {
	vars := make([]string, 0, len(r.lastVariableIDs))
	for id := range r.lastVariableIDs {
		vars = append(vars, id)
	}
	sort.Strings(vars)
	return RecordInfo{
		ID:           r.id,
		Token:        r.token,
		ControlID:    r.controlID,
		Kind:         r.kind,
		State:        r.state(),
		VariableIDs:  vars,
		SentToHost:   r.sentToHost,
		Degradations: r.budget.Current(),
	}
}

// RecordInfo is a read-only snapshot of a tracking record.
type RecordInfo struct {
	ID           string
	Token        string
	ControlID    string
	Kind         ir.EntityKind
	State        RecordState
	VariableIDs  []string
	SentToHost   bool
	Degradations int
}

// recordSet is the tracking map. Iteration follows insertion order;
// re-inserting an existing id keeps its position.
type recordSet struct {
	byID  map[string]*record
	order []string
}

func newRecordSet() *recordSet {
	return &recordSet{byID: make(map[string]*record)}
}

func (s *recordSet) get(id string) (*record, bool) {
	r, ok := s.byID[id]
	return r, ok
}

func (s *recordSet) put(r *record) {
	if _, exists := s.byID[r.id]; !exists {
		s.order = append(s.order, r.id)
	}
	s.byID[r.id] = r
}

func (s *recordSet) remove(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// snapshot returns the records in iteration order. The slice is detached
// so callers may remove records while walking it.
func (s *recordSet) snapshot() []*record {
	out := make([]*record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *recordSet) len() int {
	return len(s.byID)
}

func (s *recordSet) clear() {
	s.byID = make(map[string]*record)
	s.order = nil
}

func (s *recordSet) countByState() map[RecordState]int {
	counts := make(map[RecordState]int, 5)
	for _, r := range s.byID {
		counts[r.state()]++
	}
	return counts
}
