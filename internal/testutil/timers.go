// Package testutil provides deterministic stand-ins for time, goroutines,
// the host process and the entity store, for engine-level tests and the
// scenario harness.
package testutil

import (
	"sort"
	"sync"
	"time"
)

// Epoch is the start time of every ManualTimers.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualTimers is a clock that only moves when Advance is called.
//
// Callbacks run on the goroutine calling Advance, in due-time order, with
// the lock released so they may schedule further timers.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTimers struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending map[int]*manualTimer
}

type manualTimer struct {
	id  int
	due time.Time
	f   func()
}

// NewManualTimers creates a clock positioned at Epoch.
func NewManualTimers() *ManualTimers {
	return &ManualTimers{now: Epoch, pending: make(map[int]*manualTimer)}
}

// Now returns the current manual time.
func (m *ManualTimers) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock reaches now+d.
// The returned stop function reports whether it prevented the call.
func (m *ManualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.pending[id] = &manualTimer{id: id, due: m.now.Add(d), f: f}
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.pending[id]; !ok {
			return false
		}
		delete(m.pending, id)
		return true
	}
}

// Advance moves the clock forward by d and runs every timer that became
// due, including timers scheduled by callbacks within the window.
func (m *ManualTimers) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		delete(m.pending, next.id)
		if next.due.After(m.now) {
			m.now = next.due
		}
		m.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of scheduled, unfired timers.
func (m *ManualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// nextDue returns the earliest timer due at or before target. Ties run in
// scheduling order. Caller holds mu.
func (m *ManualTimers) nextDue(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.pending {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].due.Equal(due[j].due) {
			return due[i].due.Before(due[j].due)
		}
		return due[i].id < due[j].id
	})
	return due[0]
}
