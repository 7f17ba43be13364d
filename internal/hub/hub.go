// Package hub wires the entity store, the variable store and the manifest
// registry to one sync engine per connection.
//
// Routing:
//   - store put/replace: the owning engine re-tracks the entity
//   - store remove: the owning engine forgets it (the only forget path)
//   - bitmap size change: engines with entities on that control resend
//     their feedbacks
//   - variable change: every engine is told which ids changed
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/entsync/internal/engine"
	"github.com/roach88/entsync/internal/manifest"
	"github.com/roach88/entsync/internal/metrics"
	"github.com/roach88/entsync/internal/store"
	"github.com/roach88/entsync/internal/variables"
)

// ErrUnknownConnection is returned for a connection id that has no
// manifest or no engine.
var ErrUnknownConnection = errors.New("unknown connection")

// ErrorHandler receives errors an engine surfaces for the operator.
type ErrorHandler func(connectionID string, err error)

var _ engine.EntityStore = (*store.Store)(nil)

// owner records which engine tracks an entity and on which control.
type owner struct {
	connectionID string
	controlID    string
}

type connection struct {
	engine  *engine.Engine
	catalog *manifest.Catalog
	done    chan struct{}
}

// Hub owns the engines of all connections.
//
// Thread-safety: All methods are safe for concurrent use. Store and
// variable notifications only enqueue engine events, so they may arrive
// from inside an engine loop.
type Hub struct {
	store    *store.Store
	vars     *variables.Store
	parser   *variables.Parser
	registry *manifest.Registry

	logger     *slog.Logger
	metrics    *metrics.Collector
	onError    ErrorHandler
	engineOpts []engine.EngineOption

	mu      sync.RWMutex
	conns   map[string]*connection
	owners  map[string]owner
	started bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithMetrics shares one collector between all engines.
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Hub) {
		h.metrics = c
	}
}

// WithErrorHandler sets where engine errors go. Defaults to logging.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(h *Hub) {
		h.onError = fn
	}
}

// WithEngineOptions appends options applied to every engine.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(h *Hub) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// New creates a hub and subscribes it to st and vars.
func New(st *store.Store, vars *variables.Store, registry *manifest.Registry, opts ...Option) *Hub {
	h := &Hub{
		store:    st,
		vars:     vars,
		parser:   variables.NewParser(vars),
		registry: registry,
		logger:   slog.Default(),
		conns:    make(map[string]*connection),
		owners:   make(map[string]owner),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.onError == nil {
		h.onError = func(connectionID string, err error) {
			h.logger.Error("engine error", "connection", connectionID, "error", err)
		}
	}

	st.Subscribe(h.onStoreChange)
	vars.Subscribe(h.onVariablesChange)
	return h
}

// AddConnection creates the engine for a connection declared in the
// registry. If the hub is already started the engine starts right away.
func (h *Hub) AddConnection(connectionID string, adapter engine.HostAdapter) error {
	catalog, ok := h.registry.Catalog(connectionID)
	if !ok {
		return fmt.Errorf("add connection %s: %w", connectionID, ErrUnknownConnection)
	}

	h.mu.Lock()
	if _, exists := h.conns[connectionID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("add connection %s: already added", connectionID)
	}
	opts := append([]engine.EngineOption{
		engine.WithLogger(h.logger),
		engine.WithMetrics(h.metrics),
		engine.WithErrorReporter(func(err error) { h.onError(connectionID, err) }),
	}, h.engineOpts...)
	c := &connection{
		engine:  engine.New(connectionID, adapter, h.store, catalog, h.parser, opts...),
		catalog: catalog,
	}
	h.conns[connectionID] = c
	started := h.started
	if started && h.runCtx != nil {
		h.runLocked(c)
	}
	h.mu.Unlock()

	h.logger.Info("connection added", "connection", connectionID, "upgrade_index", catalog.UpgradeIndex())
	if started {
		h.startConnection(connectionID, c)
	}
	return nil
}

// RemoveConnection destroys a connection's engine and stops its loop.
func (h *Hub) RemoveConnection(connectionID string) error {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("remove connection %s: %w", connectionID, ErrUnknownConnection)
	}
	delete(h.conns, connectionID)
	for id, o := range h.owners {
		if o.connectionID == connectionID {
			delete(h.owners, id)
		}
	}
	h.mu.Unlock()

	c.engine.Destroy()
	c.engine.Stop()
	if c.done != nil {
		<-c.done
	}
	h.metrics.Forget(connectionID)
	h.logger.Info("connection removed", "connection", connectionID)
	return nil
}

// Start starts every engine at its manifest's upgrade index and tracks the
// entities already in the store.
func (h *Hub) Start() {
	h.mu.Lock()
	h.started = true
	ids := h.connectionIDsLocked()
	conns := make([]*connection, len(ids))
	for i, id := range ids {
		conns[i] = h.conns[id]
	}
	h.mu.Unlock()

	for i, id := range ids {
		h.startConnection(id, conns[i])
	}
}

func (h *Hub) startConnection(connectionID string, c *connection) {
	c.engine.Start(c.catalog.UpgradeIndex())
	tracked := 0
	for _, p := range h.store.EntitiesForConnection(connectionID) {
		h.track(connectionID, p.Entity.ID, p.ControlID)
		tracked++
	}
	h.logger.Info("connection started", "connection", connectionID, "entities", tracked)
}

// Run runs every engine loop until ctx is cancelled. Connections added
// while Run is active get their loop started too.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.runCtx != nil {
		h.mu.Unlock()
		return errors.New("hub already running")
	}
	h.runCtx = ctx
	for _, id := range h.connectionIDsLocked() {
		h.runLocked(h.conns[id])
	}
	h.mu.Unlock()

	<-ctx.Done()
	h.wg.Wait()

	h.mu.Lock()
	h.runCtx = nil
	h.mu.Unlock()
	return nil
}

func (h *Hub) runLocked(c *connection) {
	ctx := h.runCtx
	c.done = make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(c.done)
		if err := c.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Error("engine loop failed", "connection", c.engine.ConnectionID(), "error", err)
		}
	}()
}

// Drain processes queued events of every engine on the caller's goroutine
// until all queues are empty. For tests without a Run loop.
func (h *Hub) Drain(ctx context.Context) int {
	total := 0
	for {
		n := 0
		for _, e := range h.engines() {
			n += e.Drain(ctx)
		}
		if n == 0 {
			return total
		}
		total += n
	}
}

// Engine returns the engine of a connection.
func (h *Hub) Engine(connectionID string) (*engine.Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connectionID]
	if !ok {
		return nil, false
	}
	return c.engine, true
}

// Connections returns the ids of all added connections, sorted.
func (h *Hub) Connections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connectionIDsLocked()
}

// ResendFeedbacks asks one connection to resend all of its feedbacks.
func (h *Hub) ResendFeedbacks(connectionID string) error {
	e, ok := h.Engine(connectionID)
	if !ok {
		return fmt.Errorf("resend feedbacks %s: %w", connectionID, ErrUnknownConnection)
	}
	e.ResendFeedbacks()
	return nil
}

func (h *Hub) connectionIDsLocked() []string {
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *Hub) engines() []*engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*engine.Engine, 0, len(h.conns))
	for _, id := range h.connectionIDsLocked() {
		out = append(out, h.conns[id].engine)
	}
	return out
}

// track hands an entity to its connection's engine, forgetting it on the
// previous owner if it moved.
func (h *Hub) track(connectionID, entityID, controlID string) {
	h.mu.Lock()
	prev, hadPrev := h.owners[entityID]
	c, ok := h.conns[connectionID]
	var prevEngine *engine.Engine
	if hadPrev && prev.connectionID != connectionID {
		if pc, ok := h.conns[prev.connectionID]; ok {
			prevEngine = pc.engine
		}
	}
	if ok {
		h.owners[entityID] = owner{connectionID: connectionID, controlID: controlID}
	} else {
		delete(h.owners, entityID)
	}
	h.mu.Unlock()

	if prevEngine != nil {
		prevEngine.ForgetEntity(entityID)
	}
	if !ok {
		h.logger.Debug("entity for unknown connection", "entity_id", entityID, "connection", connectionID)
		return
	}
	c.engine.TrackEntity(h.store.Ref(entityID), controlID)
}

func (h *Hub) onStoreChange(ch store.Change) {
	switch ch.Type {
	case store.ChangePut, store.ChangeReplace:
		h.mu.RLock()
		started := h.started
		h.mu.RUnlock()
		if started {
			h.track(ch.ConnectionID, ch.EntityID, ch.ControlID)
		}

	case store.ChangeRemove:
		h.mu.Lock()
		o, ok := h.owners[ch.EntityID]
		delete(h.owners, ch.EntityID)
		var e *engine.Engine
		if ok {
			if c, found := h.conns[o.connectionID]; found {
				e = c.engine
			}
		}
		h.mu.Unlock()
		if e != nil {
			e.ForgetEntity(ch.EntityID)
		}

	case store.ChangeBitmap:
		for _, e := range h.enginesOnControl(ch.ControlID) {
			e.ResendFeedbacks()
		}
	}
}

func (h *Hub) enginesOnControl(controlID string) []*engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	for _, o := range h.owners {
		if o.controlID == controlID {
			seen[o.connectionID] = true
		}
	}
	var out []*engine.Engine
	for _, id := range h.connectionIDsLocked() {
		if seen[id] {
			out = append(out, h.conns[id].engine)
		}
	}
	return out
}

func (h *Hub) onVariablesChange(ids []string, fromControlID string) {
	for _, e := range h.engines() {
		e.OnVariablesChanged(ids, fromControlID)
	}
}
