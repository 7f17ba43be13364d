package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/metrics"
	"github.com/roach88/entsync/internal/variables"
)

// orphan is a host subscription left behind when an id was re-tracked
// under the other kind.
type orphan struct {
	id   string
	kind ir.EntityKind
}

// sentEntry identifies one member of an upgrade batch at send time.
type sentEntry struct {
	id    string
	token string
}

type upgradeBatch struct {
	entities []ir.Entity
	sent     []sentEntry
}

// pass accumulates the four payloads of one reconciliation pass.
// Payloads that reach the batch size are flushed before the pass ends.
type pass struct {
	e   *Engine
	ctx context.Context
	seq int64

	actionUpdates    []ir.ActionUpdate
	feedbackUpdates  []ir.FeedbackUpdate
	actionUpgrades   upgradeBatch
	feedbackUpgrades upgradeBatch

	// imageSizes memoizes bitmap lookups per control for this pass.
	imageSizes map[string]*ir.ImageSize

	updates, upgrades, deletes, dead int
}

// reconcile runs one pass over all records.
//
// PendingDelete records are removed, with a deletion marker when the host
// had seen them. Unloaded records are either resolved and sent (-> Ready)
// or sent for upgrade (-> Upgrading). Every other state is left alone.
func (e *Engine) reconcile(ctx context.Context) {
	if !e.ready {
		return
	}
	started := e.timers.Now()

	p := &pass{
		e:          e,
		ctx:        context.WithoutCancel(ctx),
		seq:        e.clock.Next(),
		imageSizes: make(map[string]*ir.ImageSize),
	}

	for _, o := range e.orphans {
		p.addDelete(o.kind, o.id)
	}
	e.orphans = nil

	for _, r := range e.records.snapshot() {
		switch r.state() {
		case StatePendingDelete:
			e.records.remove(r.id)
			if r.sentToHost {
				p.addDelete(r.kind, r.id)
			}
		case StateUnloaded:
			p.load(r)
		}
	}

	p.flushAll()
	e.publishRecordStates()
	e.metrics.PassCompleted(e.connectionID, e.timers.Now().Sub(started))

	e.logger.Debug("reconcile pass",
		"seq", p.seq,
		"updates", p.updates,
		"upgrades", p.upgrades,
		"deletes", p.deletes,
		"dead", p.dead,
		"records", e.records.len(),
	)
}

func (p *pass) load(r *record) {
	e := p.e
	entity, ok := r.ref.Load()
	if !ok {
		e.logger.Warn("dropping dead entity reference",
			"entity_id", r.id,
			"control_id", r.controlID,
			"event", "dead_reference",
		)
		e.records.remove(r.id)
		p.dead++
		return
	}

	if entity.NeedsUpgrade(e.upgradeIndex) {
		if err := r.transition(p.ctx, transUpgrade); err != nil {
			e.logger.Error("upgrade transition rejected", "entity_id", r.id, "error", err)
			return
		}
		p.addUpgrade(r, entity)
		return
	}

	var def *ir.Definition
	if e.defs != nil {
		def, _ = e.defs.Definition(entity.Kind, entity.DefinitionID)
	}
	options, ids := ParseOptions(e.resolver, def, entity.Options, variables.ParseContext{ControlID: r.controlID})

	if err := r.transition(p.ctx, transResolve); err != nil {
		e.logger.Error("resolve transition rejected", "entity_id", r.id, "error", err)
		return
	}
	r.lastVariableIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r.lastVariableIDs[id] = struct{}{}
	}
	r.sentToHost = true
	p.updates++

	ir.OnKind(entity.Kind, func() {
		p.addActionUpdate(ir.ActionUpdate{
			ID: entity.ID,
			Payload: &ir.ActionPayload{
				ID:           entity.ID,
				ControlID:    r.controlID,
				DefinitionID: entity.DefinitionID,
				Options:      options,
				UpgradeIndex: entity.UpgradeIndex,
			},
		})
	}, func() {
		payload := &ir.FeedbackPayload{
			ID:           entity.ID,
			ControlID:    r.controlID,
			DefinitionID: entity.DefinitionID,
			Options:      options,
			IsInverted:   entity.IsInverted,
			UpgradeIndex: entity.UpgradeIndex,
		}
		if def != nil && def.FeedbackType == ir.FeedbackAdvanced {
			payload.Image = p.imageSize(r.controlID)
		}
		p.addFeedbackUpdate(ir.FeedbackUpdate{ID: entity.ID, Payload: payload})
	})}

func (p *pass) imageSize(controlID string) *ir.ImageSize {
	if size, ok := p.imageSizes[controlID]; ok {
		return size
	}
	var out *ir.ImageSize
	if p.e.store != nil {
		if size, ok := p.e.store.BitmapSize(controlID); ok {
			out = &size
		}
	}
	p.imageSizes[controlID] = out
	return out
}

func (p *pass) addDelete(kind ir.EntityKind, id string) {
	p.deletes++
	ir.OnKind(kind,
		func() { p.addActionUpdate(ir.ActionUpdate{ID: id}) },
		func() { p.addFeedbackUpdate(ir.FeedbackUpdate{ID: id}) },
	)
}

func (p *pass) addActionUpdate(u ir.ActionUpdate) {
	p.actionUpdates = append(p.actionUpdates, u)
	if len(p.actionUpdates) >= p.e.batchSize {
		p.flushActionUpdates()
	}
}

func (p *pass) addFeedbackUpdate(u ir.FeedbackUpdate) {
	p.feedbackUpdates = append(p.feedbackUpdates, u)
	if len(p.feedbackUpdates) >= p.e.batchSize {
		p.flushFeedbackUpdates()
	}
}

func (p *pass) addUpgrade(r *record, entity ir.Entity) {
	p.upgrades++
	b := ir.MatchKind(r.kind,
		func() *upgradeBatch { return &p.actionUpgrades },
		func() *upgradeBatch { return &p.feedbackUpgrades },
	)
	b.entities = append(b.entities, entity.Clone())
	b.sent = append(b.sent, sentEntry{id: r.id, token: r.token})
	if len(b.entities) >= p.e.batchSize {
		p.flushUpgrades(r.kind, b)
	}
}

func (p *pass) flushAll() {
	p.flushActionUpdates()
	p.flushFeedbackUpdates()
	p.flushUpgrades(ir.KindAction, &p.actionUpgrades)
	p.flushUpgrades(ir.KindFeedback, &p.feedbackUpgrades)
}

func (p *pass) flushActionUpdates() {
	if len(p.actionUpdates) == 0 {
		return
	}
	batch := p.actionUpdates
	p.actionUpdates = nil
	p.e.sendUpdates(p.ctx, ir.KindAction, len(batch), func(ctx context.Context) error {
		return p.e.adapter.UpdateActions(ctx, batch)
	})
}

func (p *pass) flushFeedbackUpdates() {
	if len(p.feedbackUpdates) == 0 {
		return
	}
	batch := p.feedbackUpdates
	p.feedbackUpdates = nil
	p.e.sendUpdates(p.ctx, ir.KindFeedback, len(batch), func(ctx context.Context) error {
		return p.e.adapter.UpdateFeedbacks(ctx, batch)
	})
}

func (p *pass) flushUpgrades(kind ir.EntityKind, b *upgradeBatch) {
	if len(b.entities) == 0 {
		return
	}
	batch := *b
	*b = upgradeBatch{}
	p.e.sendUpgrades(p.ctx, kind, batch)
}

// sendUpdates hands an update batch to the dispatcher. Update results carry
// no state; a rejection is logged and counted.
func (e *Engine) sendUpdates(ctx context.Context, kind ir.EntityKind, size int, call func(context.Context) error) {
	op := "update_" + kind.String() + "s"
	e.metrics.BatchFlushed(e.connectionID, kind.String(), metrics.OpUpdate, size)

	e.dispatcher.Go(func() {
		ctx, span := e.startSpan(ctx, op, size)
		defer span.End()

		if err := call(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.AdapterError(e.connectionID, kind.String(), metrics.OpUpdate)
			e.logger.Warn("host rejected update batch",
				"op", op,
				"batch_size", size,
				"error", NewAdapterError(e.connectionID, op, size, err),
			)
		}
	})
}

// sendUpgrades hands an upgrade batch to the dispatcher. The result comes
// back to the loop as an event stamped with the current generation.
func (e *Engine) sendUpgrades(ctx context.Context, kind ir.EntityKind, batch upgradeBatch) {
	op := "upgrade_" + kind.String() + "s"
	size := len(batch.entities)
	generation := e.generation
	upgradeIndex := e.upgradeIndex
	e.metrics.BatchFlushed(e.connectionID, kind.String(), metrics.OpUpgrade, size)

	e.dispatcher.Go(func() {
		ctx, span := e.startSpan(ctx, op, size)
		defer span.End()

		var (
			upgraded []ir.Entity
			err      error
		)
		ir.OnKind(kind,
			func() { upgraded, err = e.adapter.UpgradeActions(ctx, batch.entities, upgradeIndex) },
			func() { upgraded, err = e.adapter.UpgradeFeedbacks(ctx, batch.entities, upgradeIndex) },
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.AdapterError(e.connectionID, kind.String(), metrics.OpUpgrade)
		}

		ok := e.queue.Enqueue(event{typ: eventUpgradeResult, result: &upgradeResult{
			kind:         kind,
			op:           op,
			sent:         batch.sent,
			upgraded:     upgraded,
			err:          err,
			generation:   generation,
			upgradeIndex: upgradeIndex,
		}})
		if !ok {
			e.logger.Debug("engine stopped, dropping upgrade result", "op", op, "batch_size", size)
		}
	})
}

func (e *Engine) startSpan(ctx context.Context, op string, size int) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "entsync."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entsync.connection", e.connectionID),
			attribute.Int("entsync.batch_size", size),
		),
	)
}
