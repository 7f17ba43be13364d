package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/entsync/internal/ir"
)

// Host operations recorded by RecordingHost.
const (
	OpUpdateActions    = "update_actions"
	OpUpdateFeedbacks  = "update_feedbacks"
	OpUpgradeActions   = "upgrade_actions"
	OpUpgradeFeedbacks = "upgrade_feedbacks"
)

// Call is one recorded host adapter call.
type Call struct {
	Op string
	// IDs lists the batch members in order. For update calls deletion
	// markers are included and also listed in Deletes.
	IDs     []string
	Deletes []string

	ActionUpdates   []ir.ActionUpdate
	FeedbackUpdates []ir.FeedbackUpdate
	Entities        []ir.Entity
	UpgradeIndex    int
}

// ErrInjected is returned by calls failed through FailNext.
var ErrInjected = errors.New("injected host rejection")

// Size returns the number of batch members.
func (c Call) Size() int {
	return len(c.IDs)
}

// RecordingHost is a host adapter that records every call.
//
// Upgrade calls return UpgradeFunc's result, or nothing (every member
// already current) when UpgradeFunc is nil.
type RecordingHost struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]int

	UpgradeFunc func(kind ir.EntityKind, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)
	UpdateErr   error
}

// NewRecordingHost creates a host that accepts everything.
func NewRecordingHost() *RecordingHost {
	return &RecordingHost{}
}

// record stores c and reports whether the call must fail.
func (h *RecordingHost) record(c Call) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
	if h.fail[c.Op] > 0 {
		h.fail[c.Op]--
		return ErrInjected
	}
	return nil
}

// FailNext makes the next n calls of op return ErrInjected.
func (h *RecordingHost) FailNext(op string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail == nil {
		h.fail = make(map[string]int)
	}
	h.fail[op] += n
}

// UpdateActions records an update-actions batch.
func (h *RecordingHost) UpdateActions(_ context.Context, batch []ir.ActionUpdate) error {
	c := Call{Op: OpUpdateActions, ActionUpdates: append([]ir.ActionUpdate(nil), batch...)}
	for _, u := range batch {
		c.IDs = append(c.IDs, u.ID)
		if u.IsDelete() {
			c.Deletes = append(c.Deletes, u.ID)
		}
	}
	if err := h.record(c); err != nil {
		return err
	}
	return h.UpdateErr
}

// UpdateFeedbacks records an update-feedbacks batch.
func (h *RecordingHost) UpdateFeedbacks(_ context.Context, batch []ir.FeedbackUpdate) error {
	c := Call{Op: OpUpdateFeedbacks, FeedbackUpdates: append([]ir.FeedbackUpdate(nil), batch...)}
	for _, u := range batch {
		c.IDs = append(c.IDs, u.ID)
		if u.IsDelete() {
			c.Deletes = append(c.Deletes, u.ID)
		}
	}
	if err := h.record(c); err != nil {
		return err
	}
	return h.UpdateErr
}

// UpgradeActions records an upgrade-actions batch.
func (h *RecordingHost) UpgradeActions(_ context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return h.upgrade(OpUpgradeActions, ir.KindAction, batch, currentUpgradeIndex)
}

// UpgradeFeedbacks records an upgrade-feedbacks batch.
func (h *RecordingHost) UpgradeFeedbacks(_ context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return h.upgrade(OpUpgradeFeedbacks, ir.KindFeedback, batch, currentUpgradeIndex)
}

func (h *RecordingHost) upgrade(op string, kind ir.EntityKind, batch []ir.Entity, index int) ([]ir.Entity, error) {
	c := Call{Op: op, UpgradeIndex: index}
	for _, e := range batch {
		c.IDs = append(c.IDs, e.ID)
		c.Entities = append(c.Entities, e.Clone())
	}
	if err := h.record(c); err != nil {
		return nil, err
	}

	h.mu.Lock()
	fn := h.UpgradeFunc
	h.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(kind, batch, index)
}

// SetUpgradeFunc replaces UpgradeFunc under the lock.
func (h *RecordingHost) SetUpgradeFunc(fn func(kind ir.EntityKind, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.UpgradeFunc = fn
}

// Calls returns all recorded calls in order.
func (h *RecordingHost) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsFor returns the recorded calls of one operation.
func (h *RecordingHost) CallsFor(op string) []Call {
	var out []Call
	for _, c := range h.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets all recorded calls.
func (h *RecordingHost) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}
