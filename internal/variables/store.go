package variables

import (
	"reflect"
	"sync"

	"github.com/roach88/entsync/internal/ir"
)

// ChangeListener receives the ids of variables whose value changed.
// fromControlID is empty for global variables and names the control for
// control-local variables.
type ChangeListener func(ids []string, fromControlID string)

// Store is the in-memory variable table.
//
// Thread-safety: all methods are safe for concurrent use. Listeners are
// invoked after the lock is released, on the caller's goroutine.
type Store struct {
	mu        sync.RWMutex
	global    map[string]ir.IRValue
	local     map[string]map[string]ir.IRValue // controlID -> name -> value
	listeners []ChangeListener
}

// NewStore creates an empty variable table.
func NewStore() *Store {
	return &Store{
		global: make(map[string]ir.IRValue),
		local:  make(map[string]map[string]ir.IRValue),
	}
}

// Subscribe registers a change listener.
func (s *Store) Subscribe(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Value implements Values.
func (s *Store) Value(id string) (ir.IRValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.global[id]
	return v, ok
}

// LocalValue implements Values.
func (s *Store) LocalValue(controlID, name string) (ir.IRValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.local[controlID][name]
	return v, ok
}

// Set assigns global variables. Listeners are told about the ids whose
// value actually changed; unchanged assignments are silent.
func (s *Store) Set(values map[string]ir.IRValue) []string {
	s.mu.Lock()
	var changed []string
	for id, v := range values {
		if old, ok := s.global[id]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		s.global[id] = v
		changed = append(changed, id)
	}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, changed, "")
	return changed
}

// Unset removes global variables. Removed ids are reported as changed
// since references to them now resolve to UnknownValue.
func (s *Store) Unset(ids ...string) []string {
	s.mu.Lock()
	var changed []string
	for _, id := range ids {
		if _, ok := s.global[id]; ok {
			delete(s.global, id)
			changed = append(changed, id)
		}
	}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, changed, "")
	return changed
}

// SetLocal assigns control-local variables. Changed names are reported
// under both the this: and local: labels.
func (s *Store) SetLocal(controlID string, values map[string]ir.IRValue) []string {
	s.mu.Lock()
	table, ok := s.local[controlID]
	if !ok {
		table = make(map[string]ir.IRValue)
		s.local[controlID] = table
	}
	var changed []string
	for name, v := range values {
		if old, ok := table[name]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		table[name] = v
		changed = append(changed, LabelThis+":"+name, LabelLocal+":"+name)
	}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, changed, controlID)
	return changed
}

// ForgetControl drops all local variables of a control without notifying.
func (s *Store) ForgetControl(controlID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, controlID)
}

func notify(listeners []ChangeListener, changed []string, fromControlID string) {
	if len(changed) == 0 {
		return
	}
	for _, l := range listeners {
		l(changed, fromControlID)
	}
}
