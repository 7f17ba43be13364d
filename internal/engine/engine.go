package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/metrics"
	"github.com/roach88/entsync/internal/variables"
)

// DefaultBatchSize is the number of entries after which a payload is
// flushed to the host mid-pass.
const DefaultBatchSize = 50

// Engine keeps a host's subscriptions in step with the hub's entities for
// one connection.
//
// CRITICAL: All record mutations happen in the single-writer Run loop
// goroutine (or in Drain, when no loop runs). Public operations enqueue an
// event and return immediately; adapter calls run on the Dispatcher and
// report back through the same queue.
//
// Thread-safety model:
//   - Start, Destroy, TrackEntity, ForgetEntity, ResendFeedbacks,
//     OnVariablesChanged: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Records, Record, Ready: safe from any goroutine
type Engine struct {
	connectionID string
	adapter      HostAdapter
	store        EntityStore
	defs         Definitions
	resolver     OptionResolver

	logger      *slog.Logger
	timers      Timers
	dispatcher  Dispatcher
	tokens      TokenGenerator
	metrics     *metrics.Collector
	tracer      trace.Tracer
	reportError ErrorReporter
	batchSize   int
	settle      time.Duration
	maxWait     time.Duration
	budget      int
	retry       *backoff.ExponentialBackOff

	clock    *Clock
	queue    *eventQueue
	debounce *debouncer

	// mu is held by the loop while it processes an event so readers see
	// consistent snapshots.
	mu           sync.RWMutex
	records      *recordSet
	ready        bool
	upgradeIndex int
	generation   uint64 // bumped on destroy; older upgrade results are stale
	orphans      []orphan
	retryStop    func() bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTimers replaces wall-clock scheduling, for tests.
func WithTimers(t Timers) EngineOption {
	return func(e *Engine) {
		e.timers = t
	}
}

// WithDispatcher replaces the goroutine-per-call dispatcher, for tests.
func WithDispatcher(d Dispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithTokenGenerator sets the tracking token generator.
func WithTokenGenerator(g TokenGenerator) EngineOption {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithTracer sets the tracer used for adapter call spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithErrorReporter sets where persistent errors are surfaced.
func WithErrorReporter(r ErrorReporter) EngineOption {
	return func(e *Engine) {
		e.reportError = r
	}
}

// WithBatchSize sets the mid-pass flush threshold.
//
// Default: 50 entries (DefaultBatchSize)
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDebounce sets the settle window and the maximum delay of a pass.
func WithDebounce(settle, maxWait time.Duration) EngineOption {
	return func(e *Engine) {
		e.settle = settle
		e.maxWait = maxWait
	}
}

// WithDegradationBudget sets how many rejected upgrade calls an entity may
// absorb before retries stop. Zero disables retries.
//
// Default: 5 (DefaultDegradationBudget)
func WithDegradationBudget(n int) EngineOption {
	return func(e *Engine) {
		e.budget = n
	}
}

// WithRetryBackoff sets the delay policy between upgrade retries.
func WithRetryBackoff(b *backoff.ExponentialBackOff) EngineOption {
	return func(e *Engine) {
		e.retry = b
	}
}

// New creates an Engine for one connection.
//
// defs and resolver may be nil; options then pass through unresolved.
func New(
	connectionID string,
	adapter HostAdapter,
	store EntityStore,
	defs Definitions,
	resolver OptionResolver,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		connectionID: connectionID,
		adapter:      adapter,
		store:        store,
		defs:         defs,
		resolver:     resolver,
		logger:       slog.Default(),
		timers:       realTimers{},
		dispatcher:   goDispatcher{},
		tokens:       UUIDv7Generator{},
		tracer:       otel.Tracer("github.com/roach88/entsync/internal/engine"),
		batchSize:    DefaultBatchSize,
		settle:       defaultSettle,
		maxWait:      defaultMaxWait,
		budget:       DefaultDegradationBudget,
		clock:        NewClock(),
		queue:        newEventQueue(),
		records:      newRecordSet(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("connection", connectionID)
	if e.retry == nil {
		e.retry = newRetryBackoff()
	}
	e.retry.Clock = e.timers
	e.retry.Reset()
	e.debounce = newDebouncer(e.timers, e.settle, e.maxWait, func() {
		e.queue.Enqueue(event{typ: eventReconcile})
	})

	return e
}

func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // never give up; the degradation budget bounds retries
	return b
}

// ConnectionID returns the connection this engine serves.
func (e *Engine) ConnectionID() string {
	return e.connectionID
}

// Start marks the host ready and schedules the initial pass. Entities with
// an upgrade index other than currentUpgradeIndex are sent for upgrade.
func (e *Engine) Start(currentUpgradeIndex int) {
	e.queue.Enqueue(event{typ: eventStart, upgradeIndex: currentUpgradeIndex})
}

// Destroy tears down all tracking. Pending passes are cancelled and
// in-flight results discarded; the adapter is not called again until the
// next Start.
func (e *Engine) Destroy() {
	e.queue.Enqueue(event{typ: eventDestroy})
}

// TrackEntity starts (or restarts) tracking an entity for a control.
// Re-tracking an id replaces the record with a fresh token, so any
// in-flight upgrade for the old token is ignored when it returns.
func (e *Engine) TrackEntity(ref EntityRef, controlID string) {
	e.queue.Enqueue(event{typ: eventTrack, ref: ref, controlID: controlID})
}

// ForgetEntity stops tracking an entity. If the host has seen it, the next
// pass sends a deletion marker. Unknown ids are ignored.
func (e *Engine) ForgetEntity(id string) {
	e.queue.Enqueue(event{typ: eventForget, entityID: id})
}

// ResendFeedbacks re-resolves and resends every tracked feedback, e.g.
// after a control's bitmap size changed.
func (e *Engine) ResendFeedbacks() {
	e.queue.Enqueue(event{typ: eventResendFeedbacks})
}

// OnVariablesChanged resends every Ready entity whose resolved options
// referenced one of ids. A non-empty fromControlID limits this to entities
// of that control.
func (e *Engine) OnVariablesChanged(ids []string, fromControlID string) {
	if len(ids) == 0 {
		return
	}
	e.queue.Enqueue(event{typ: eventVariablesChanged, variableIDs: append([]string(nil), ids...), controlID: fromControlID})
}

// ParseOptions resolves options against the connection's variables.
func (e *Engine) ParseOptions(def *ir.Definition, options ir.IRObject, ctx variables.ParseContext) (ir.IRObject, []string) {
	return ParseOptions(e.resolver, def, options, ctx)
}

// Ready reports whether Start has been processed and Destroy has not.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Passes returns the number of reconciliation passes run so far.
func (e *Engine) Passes() int64 {
	return e.clock.Current()
}

// Records returns a snapshot of all tracking records in tracking order.
func (e *Engine) Records() []RecordInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RecordInfo, 0, e.records.len())
	for _, r := range e.records.snapshot() {
		out = append(out, r.info())
	}
	return out
}

// Record returns the snapshot of one tracking record.
func (e *Engine) Record(id string) (RecordInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.records.get(id)
	if !ok {
		return RecordInfo{}, false
	}
	return r.info(), true
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// ERROR HANDLING: On event processing failure, the error is logged with the
// event context and processing continues. A failing entity never stops the
// rest of the connection from synchronizing.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, ev); err != nil {
				e.logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.shutdown()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				e.shutdown()
				return nil
			}
		}
	}
}

// Drain processes every queued event on the caller's goroutine and returns
// how many were handled. For use in tests and the scenario harness, where
// no Run loop is active.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		if err := e.processEvent(ctx, ev); err != nil {
			e.logEventError(ev, err)
		}
		n++
	}
}

// Stop closes the event queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) shutdown() {
	e.queue.Close()
	e.debounce.Cancel()
	e.mu.Lock()
	e.stopRetry()
	e.mu.Unlock()
}

// processEvent routes an event to its handler.
// CRITICAL: Called only from the loop goroutine.
func (e *Engine) processEvent(ctx context.Context, ev event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.typ {
	case eventStart:
		return e.handleStart(ev.upgradeIndex)
	case eventDestroy:
		return e.handleDestroy()
	case eventTrack:
		if ev.ref == nil {
			return fmt.Errorf("track event missing entity reference")
		}
		return e.handleTrack(ev.ref, ev.controlID)
	case eventForget:
		return e.handleForget(ctx, ev.entityID)
	case eventResendFeedbacks:
		return e.handleResendFeedbacks(ctx)
	case eventVariablesChanged:
		return e.handleVariablesChanged(ctx, ev.variableIDs, ev.controlID)
	case eventReconcile:
		e.reconcile(ctx)
		return nil
	case eventUpgradeResult:
		if ev.result == nil {
			return fmt.Errorf("upgrade result event missing result")
		}
		e.handleUpgradeResult(ctx, ev.result)
		return nil
	case eventRetryDegraded:
		return e.handleRetryDegraded(ctx, ev.generation)
	default:
		return fmt.Errorf("unknown event type: %d", ev.typ)
	}
}

func (e *Engine) logEventError(ev event, err error) {
	attrs := []any{
		"event_type", ev.typ.String(),
		"error", err,
	}
	if ev.entityID != "" {
		attrs = append(attrs, "entity_id", ev.entityID)
	}
	if ev.ref != nil {
		attrs = append(attrs, "entity_id", ev.ref.ID())
	}
	if ev.controlID != "" {
		attrs = append(attrs, "control_id", ev.controlID)
	}
	e.logger.Error("event processing failed", attrs...)
}

// schedule requests a pass. Before Start this is a no-op: bookkeeping
// changes are picked up by the initial pass.
func (e *Engine) schedule() {
	if !e.ready {
		return
	}
	e.debounce.Trigger()
}

func (e *Engine) handleStart(upgradeIndex int) error {
	if e.ready {
		e.logger.Warn("engine already started", "upgrade_index", upgradeIndex)
	}
	e.ready = true
	e.upgradeIndex = upgradeIndex
	e.logger.Info("engine ready", "upgrade_index", upgradeIndex, "records", e.records.len())
	e.schedule()
	return nil
}

func (e *Engine) handleDestroy() error {
	e.debounce.Cancel()
	e.stopRetry()
	e.ready = false
	e.generation++
	e.records.clear()
	e.orphans = nil
	e.publishRecordStates()
	e.logger.Info("engine destroyed")
	return nil
}

func (e *Engine) handleTrack(ref EntityRef, controlID string) error {
	entity, ok := ref.Load()
	if !ok {
		e.logger.Warn("ignoring dead entity reference", "entity_id", ref.ID(), "control_id", controlID,
			"event", "dead_reference", "error", NewDeadReferenceError(e.connectionID, ref.ID()))
		return nil
	}

	r := newRecord(entity.ID, e.tokens.Generate(), ref, controlID, entity.Kind, e.budget)
	if prev, exists := e.records.get(entity.ID); exists && prev.sentToHost {
		if prev.kind == r.kind {
			r.sentToHost = true
		} else {
			// The host holds a subscription under the other kind.
			e.orphans = append(e.orphans, orphan{id: prev.id, kind: prev.kind})
		}
	}
	e.records.put(r)

	e.logger.Debug("tracking entity",
		"entity_id", r.id,
		"kind", r.kind.String(),
		"control_id", controlID,
		"token", r.token,
	)
	e.schedule()
	return nil
}

func (e *Engine) handleForget(ctx context.Context, id string) error {
	r, ok := e.records.get(id)
	if !ok || r.state() == StatePendingDelete {
		return nil
	}
	if err := r.transition(ctx, transForget); err != nil {
		return err
	}
	e.schedule()
	return nil
}

func (e *Engine) handleResendFeedbacks(ctx context.Context) error {
	changed := 0
	for _, r := range e.records.snapshot() {
		if !ir.MatchKind(r.kind, func() bool { return false }, func() bool { return true }) {
			continue
		}
		switch r.state() {
		case StateReady:
			if err := r.transition(ctx, transInvalidate); err != nil {
				return err
			}
			changed++
		case StateUpgrading:
			if err := r.transition(ctx, transInvalidateAsync); err != nil {
				return err
			}
			changed++
		}
	}
	if changed > 0 {
		e.schedule()
	}
	return nil
}

func (e *Engine) handleVariablesChanged(ctx context.Context, ids []string, fromControlID string) error {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	changed := 0
	for _, r := range e.records.snapshot() {
		if r.state() != StateReady {
			continue
		}
		if fromControlID != "" && r.controlID != fromControlID {
			continue
		}
		if !r.referencesAny(set) {
			continue
		}
		if err := r.transition(ctx, transInvalidate); err != nil {
			return err
		}
		changed++
	}
	if changed > 0 {
		e.logger.Debug("variables invalidated entities", "variables", len(ids), "entities", changed)
		e.schedule()
	}
	return nil
}

func (e *Engine) report(err error) {
	if e.reportError != nil {
		e.reportError(err)
	}
}

var allStates = []string{
	string(StateUnloaded),
	string(StateUpgrading),
	string(StateUpgradingInvalidated),
	string(StateReady),
	string(StatePendingDelete),
}

func (e *Engine) publishRecordStates() {
	if e.metrics == nil {
		return
	}
	counts := make(map[string]int, len(allStates))
	for s, n := range e.records.countByState() {
		counts[string(s)] = n
	}
	e.metrics.SetRecords(e.connectionID, allStates, counts)
}
