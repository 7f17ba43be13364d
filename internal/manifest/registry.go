package manifest

import (
	"slices"
	"sync"

	"github.com/roach88/entsync/internal/ir"
)

// Registry holds the manifests of all known connections.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Catalog
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Catalog)}
}

// Register adds or replaces a connection manifest.
func (r *Registry) Register(m *ir.ConnectionManifest) *Catalog {
	c := newCatalog(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.byID[m.ID] = c
	return c
}

// Catalog returns the definitions of one connection.
func (r *Registry) Catalog(connectionID string) (*Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[connectionID]
	return c, ok
}

// Connections returns the registered connection ids in registration order.
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Manifests returns every registered manifest in registration order.
func (r *Registry) Manifests() []*ir.ConnectionManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ir.ConnectionManifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].manifest)
	}
	return out
}

// Catalog is the immutable definition table of one connection. It
// satisfies the engine's Definitions interface.
type Catalog struct {
	manifest  *ir.ConnectionManifest
	actions   map[string]*ir.Definition
	feedbacks map[string]*ir.Definition
}

func newCatalog(m *ir.ConnectionManifest) *Catalog {
	c := &Catalog{
		manifest:  m,
		actions:   make(map[string]*ir.Definition, len(m.Actions)),
		feedbacks: make(map[string]*ir.Definition, len(m.Feedbacks)),
	}
	for i := range m.Actions {
		c.actions[m.Actions[i].ID] = &m.Actions[i]
	}
	for i := range m.Feedbacks {
		c.feedbacks[m.Feedbacks[i].ID] = &m.Feedbacks[i]
	}
	return c
}

// Manifest returns the compiled manifest.
func (c *Catalog) Manifest() *ir.ConnectionManifest {
	return c.manifest
}

// UpgradeIndex returns the module's current upgrade index.
func (c *Catalog) UpgradeIndex() int {
	return c.manifest.UpgradeIndex
}

// Definition returns the definition an entity refers to.
func (c *Catalog) Definition(kind ir.EntityKind, id string) (*ir.Definition, bool) {
	table := ir.MatchKind(kind,
		func() map[string]*ir.Definition { return c.actions },
		func() map[string]*ir.Definition { return c.feedbacks },
	)
	def, ok := table[id]
	return def, ok
}
