package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/entsync/internal/engine"
	"github.com/roach88/entsync/internal/host"
	"github.com/roach88/entsync/internal/hub"
	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/manifest"
	"github.com/roach88/entsync/internal/store"
	"github.com/roach88/entsync/internal/testutil"
	"github.com/roach88/entsync/internal/variables"
)

// defaultAdvance moves the clock past the debouncer's maximum wait.
const defaultAdvance = 50 * time.Millisecond

// settleLimit bounds the settle step so a retry loop cannot spin forever.
const settleLimit = 100

// Harness runs one scenario against a real hub, entity store and engine,
// with manual timers, a manual dispatcher and a recording host.
type Harness struct {
	scenario     *Scenario
	connectionID string

	store      *store.Store
	vars       *variables.Store
	hub        *hub.Hub
	engine     *engine.Engine
	host       *testutil.RecordingHost
	timers     *testutil.ManualTimers
	dispatcher *testutil.ManualDispatcher
	logger     *slog.Logger

	result *Result
	seen   int
	step   int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with
// sequential record tokens so traces are reproducible.
//
// Execution flow:
// 1. Load the manifest and pick the connection
// 2. Seed variables and store entities
// 3. Execute steps, draining engine events after each one
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	registry, err := loadRegistry(scenario)
	if err != nil {
		return nil, err
	}
	connectionID, err := pickConnection(scenario, registry)
	if err != nil {
		return nil, err
	}

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:", store.WithLogger(discard))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario:     scenario,
		connectionID: connectionID,
		store:        st,
		vars:         variables.NewStore(),
		host:         testutil.NewRecordingHost(),
		timers:       testutil.NewManualTimers(),
		dispatcher:   testutil.NewManualDispatcher(),
		logger:       discard,
		result:       NewResult(),
	}
	if err := h.configureHost(); err != nil {
		return nil, err
	}

	engineOpts := []engine.EngineOption{
		engine.WithTimers(h.timers),
		engine.WithDispatcher(h.dispatcher),
		engine.WithTokenGenerator(engine.NewSequenceGenerator("tok")),
	}
	if scenario.BatchSize > 0 {
		engineOpts = append(engineOpts, engine.WithBatchSize(scenario.BatchSize))
	}
	if scenario.DegradationBudget != nil {
		engineOpts = append(engineOpts, engine.WithDegradationBudget(*scenario.DegradationBudget))
	}
	h.hub = hub.New(st, h.vars, registry,
		hub.WithLogger(discard),
		hub.WithEngineOptions(engineOpts...),
		hub.WithErrorHandler(func(_ string, err error) {
			h.result.Reported = append(h.result.Reported, err.Error())
		}),
	)
	if err := h.hub.AddConnection(connectionID, h.host); err != nil {
		return nil, err
	}
	h.engine, _ = h.hub.Engine(connectionID)

	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	for i, step := range scenario.Steps {
		h.step = i
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.hub.Drain(ctx)
		h.collectCalls()
	}

	for _, r := range h.engine.Records() {
		h.result.Records = append(h.result.Records, RecordSnapshot{ID: r.ID, State: string(r.State)})
	}

	actx := &AssertionContext{Store: st}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func loadRegistry(s *Scenario) (*manifest.Registry, error) {
	src := s.ManifestSource
	if s.Manifest != "" {
		data, err := os.ReadFile(s.Manifest)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		src = string(data)
	}
	registry, errs := manifest.LoadString(src)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load manifest: %w", errors.Join(errs...))
	}
	for _, m := range registry.Manifests() {
		if verrs := manifest.Validate(m); len(verrs) > 0 {
			return nil, fmt.Errorf("invalid manifest %s: %s", m.ID, verrs[0].Error())
		}
	}
	return registry, nil
}

func pickConnection(s *Scenario, registry *manifest.Registry) (string, error) {
	if s.Connection != "" {
		if _, ok := registry.Catalog(s.Connection); !ok {
			return "", fmt.Errorf("connection %q is not declared in the manifest", s.Connection)
		}
		return s.Connection, nil
	}
	ids := registry.Connections()
	if len(ids) != 1 {
		return "", fmt.Errorf("manifest declares %d connections; set connection", len(ids))
	}
	return ids[0], nil
}

func (h *Harness) configureHost() error {
	actions, err := buildScripts(h.scenario.Host.ActionScripts)
	if err != nil {
		return err
	}
	feedbacks, err := buildScripts(h.scenario.Host.FeedbackScripts)
	if err != nil {
		return err
	}
	if len(actions) == 0 && len(feedbacks) == 0 {
		return nil
	}
	builtin := host.NewBuiltin(actions, feedbacks, host.WithLogger(h.logger))
	h.host.SetUpgradeFunc(func(kind ir.EntityKind, batch []ir.Entity, index int) ([]ir.Entity, error) {
		var (
			out []ir.Entity
			err error
		)
		ctx := context.Background()
		ir.OnKind(kind,
			func() { out, err = builtin.UpgradeActions(ctx, batch, index) },
			func() { out, err = builtin.UpgradeFeedbacks(ctx, batch, index) },
		)
		return out, err
	})
	return nil
}

func buildScripts(specs []ScriptSpec) ([]host.UpgradeScript, error) {
	out := make([]host.UpgradeScript, 0, len(specs))
	for i, sc := range specs {
		switch {
		case sc.Rename != nil:
			out = append(out, host.RenameOption(sc.Rename.Definition, sc.Rename.From, sc.Rename.To))
		case sc.Default != nil:
			v, err := ir.FromAny(sc.Default.Value)
			if err != nil {
				return nil, fmt.Errorf("host script %d: %w", i, err)
			}
			out = append(out, host.DefaultOption(sc.Default.Definition, sc.Default.Key, v))
		default:
			out = append(out, host.Noop)
		}
	}
	return out, nil
}

func (h *Harness) seed(ctx context.Context) error {
	if len(h.scenario.Variables) > 0 {
		values := make(map[string]ir.IRValue, len(h.scenario.Variables))
		for id, raw := range h.scenario.Variables {
			v, err := ir.FromAny(raw)
			if err != nil {
				return fmt.Errorf("variable %s: %w", id, err)
			}
			values[id] = v
		}
		h.vars.Set(values)
	}
	for _, es := range h.scenario.Entities {
		e, err := h.entity(es)
		if err != nil {
			return err
		}
		if err := h.store.Put(ctx, es.Control, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) entity(es EntitySpec) (ir.Entity, error) {
	kind, err := ir.ParseEntityKind(es.Kind)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("entity %s: %w", es.ID, err)
	}
	opts, err := ir.ObjectFromMap(es.Options)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("entity %s options: %w", es.ID, err)
	}
	conn := es.Connection
	if conn == "" {
		conn = h.connectionID
	}
	return ir.Entity{
		ID:           es.ID,
		Kind:         kind,
		ConnectionID: conn,
		DefinitionID: es.Definition,
		Options:      opts,
		UpgradeIndex: es.UpgradeIndex,
		IsInverted:   es.Inverted,
	}, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Start != nil:
		h.hub.Start()

	case step.Track != nil:
		if step.Track.Kind == "" {
			p, ok := h.store.Entity(step.Track.ID)
			if !ok {
				return fmt.Errorf("track: entity %s is not in the store", step.Track.ID)
			}
			return h.store.Put(ctx, p.ControlID, p.Entity)
		}
		e, err := h.entity(step.Track.EntitySpec)
		if err != nil {
			return err
		}
		return h.store.Put(ctx, step.Track.Control, e)

	case step.Forget != nil:
		return h.store.Remove(ctx, step.Forget.ID)

	case step.SetVariable != nil:
		v, err := ir.FromAny(step.SetVariable.Value)
		if err != nil {
			return fmt.Errorf("set_variable %s: %w", step.SetVariable.ID, err)
		}
		values := map[string]ir.IRValue{step.SetVariable.ID: v}
		if step.SetVariable.Control != "" {
			h.vars.SetLocal(step.SetVariable.Control, values)
		} else {
			h.vars.Set(values)
		}

	case step.ResendFeedbacks != nil:
		return h.hub.ResendFeedbacks(h.connectionID)

	case step.SetBitmap != nil:
		size := ir.ImageSize{Width: step.SetBitmap.Width, Height: step.SetBitmap.Height}
		return h.store.SetBitmapSize(ctx, step.SetBitmap.Control, size)

	case step.Advance != nil:
		d := defaultAdvance
		if step.Advance.Duration != "" {
			d, _ = time.ParseDuration(step.Advance.Duration)
		}
		h.hub.Drain(ctx)
		h.timers.Advance(d)

	case step.Resolve != nil:
		h.hub.Drain(ctx)
		if step.Resolve.Count == 0 {
			h.dispatcher.RunAll()
			break
		}
		for range step.Resolve.Count {
			if !h.dispatcher.RunNext() {
				break
			}
		}

	case step.Reject != nil:
		h.host.FailNext(step.Reject.Op, max(step.Reject.Times, 1))

	case step.Destroy != nil:
		h.engine.Destroy()

	case step.Settle != nil:
		return h.settle(ctx)
	}
	return nil
}

// settle runs events, timers and host calls until the engine is idle.
func (h *Harness) settle(ctx context.Context) error {
	for range settleLimit {
		n := h.hub.Drain(ctx)
		h.timers.Advance(defaultAdvance)
		n += h.hub.Drain(ctx)
		n += h.dispatcher.RunAll()
		h.collectCalls()
		if n == 0 && h.timers.Pending() == 0 {
			return nil
		}
	}
	return fmt.Errorf("settle: engine still busy after %d rounds", settleLimit)
}

// collectCalls appends host calls made since the last collection.
func (h *Harness) collectCalls() {
	calls := h.host.Calls()
	for _, c := range calls[h.seen:] {
		h.result.Trace = append(h.result.Trace, traceEvent(h.step, c))
	}
	h.seen = len(calls)
}

func traceEvent(step int, c testutil.Call) TraceEvent {
	ev := TraceEvent{
		Step:         step,
		Op:           c.Op,
		IDs:          append([]string{}, c.IDs...),
		Deletes:      c.Deletes,
		UpgradeIndex: c.UpgradeIndex,
	}
	options := make(map[string]any)
	for _, u := range c.ActionUpdates {
		if u.Payload != nil {
			options[u.ID] = ir.ToAny(u.Payload.Options)
		}
	}
	for _, u := range c.FeedbackUpdates {
		if u.Payload != nil {
			options[u.ID] = ir.ToAny(u.Payload.Options)
		}
	}
	if len(options) > 0 {
		ev.Options = options
	}
	return ev
}
