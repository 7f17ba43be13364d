package testutil

import (
	"context"
	"sync"

	"github.com/roach88/entsync/internal/ir"
)

// MemoryStore is an in-memory entity collection with bitmap sizes.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]ir.Entity
	bitmaps  map[string]ir.ImageSize
	replaced []ir.Entity

	// ReplaceErr, when set, makes Replace fail.
	ReplaceErr error
	// OnReplace is called after a successful Replace, without the lock.
	OnReplace func(ir.Entity)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]ir.Entity),
		bitmaps:  make(map[string]ir.ImageSize),
	}
}

// Put inserts or overwrites an entity and returns a reference to it.
func (s *MemoryStore) Put(e ir.Entity) *MemoryRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e.Clone()
	return &MemoryRef{store: s, id: e.ID}
}

// Delete removes an entity; references to it become dead.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// Get returns a copy of an entity.
func (s *MemoryStore) Get(id string) (ir.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ir.Entity{}, false
	}
	return e.Clone(), true
}

// Ref returns a reference to id, whether or not it exists yet.
func (s *MemoryStore) Ref(id string) *MemoryRef {
	return &MemoryRef{store: s, id: id}
}

// Replace overwrites an entity with its upgraded form.
func (s *MemoryStore) Replace(_ context.Context, e ir.Entity) error {
	s.mu.Lock()
	if s.ReplaceErr != nil {
		err := s.ReplaceErr
		s.mu.Unlock()
		return err
	}
	s.entities[e.ID] = e.Clone()
	s.replaced = append(s.replaced, e.Clone())
	hook := s.OnReplace
	s.mu.Unlock()

	if hook != nil {
		hook(e)
	}
	return nil
}

// Replaced returns every entity committed through Replace, in order.
func (s *MemoryStore) Replaced() []ir.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.Entity(nil), s.replaced...)
}

// SetBitmapSize sets the render size of a control.
func (s *MemoryStore) SetBitmapSize(controlID string, size ir.ImageSize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitmaps[controlID] = size
}

// BitmapSize returns the render size of a control.
func (s *MemoryStore) BitmapSize(controlID string) (ir.ImageSize, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.bitmaps[controlID]
	return size, ok
}

// MemoryRef is a non-owning reference into a MemoryStore.
type MemoryRef struct {
	store *MemoryStore
	id    string
}

// ID returns the referenced entity id.
func (r *MemoryRef) ID() string {
	return r.id
}

// Load returns the current entity, or false once it was deleted.
func (r *MemoryRef) Load() (ir.Entity, bool) {
	return r.store.Get(r.id)
}
