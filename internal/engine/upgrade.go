package engine

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff"

	"github.com/roach88/entsync/internal/ir"
)

// upgradeResult is what an upgrade call reports back to the loop.
type upgradeResult struct {
	kind         ir.EntityKind
	op           string
	sent         []sentEntry
	upgraded     []ir.Entity
	err          error
	generation   uint64
	upgradeIndex int
}

// current returns the record for s if it is still the one that was sent.
func (e *Engine) current(s sentEntry) (*record, bool) {
	r, ok := e.records.get(s.id)
	if !ok || r.token != s.token {
		e.metrics.StaleResult(e.connectionID)
		return nil, false
	}
	return r, true
}

// handleUpgradeResult applies an upgrade response.
//
// Entries whose token no longer matches are ignored. A record invalidated
// while in flight goes back to Unloaded and is re-resolved; an Upgrading
// record commits the replacement and becomes Ready. Batch members the
// host left out of the response are committed as already current.
func (e *Engine) handleUpgradeResult(ctx context.Context, res *upgradeResult) {
	if !e.ready || res.generation != e.generation {
		e.logger.Debug("discarding upgrade result from before destroy", "op", res.op, "batch_size", len(res.sent))
		for range res.sent {
			e.metrics.StaleResult(e.connectionID)
		}
		return
	}

	if res.err != nil {
		e.handleUpgradeFailure(ctx, res)
		return
	}

	byID := make(map[string]ir.Entity, len(res.upgraded))
	for _, u := range res.upgraded {
		if _, dup := byID[u.ID]; !dup {
			byID[u.ID] = u
		}
	}

	reschedule := false
	retry := false
	for _, s := range res.sent {
		r, ok := e.current(s)
		if !ok {
			continue
		}

		switch r.state() {
		case StateUpgradingInvalidated:
			if err := r.transition(ctx, transReprocess); err != nil {
				e.logger.Error("reprocess transition rejected", "entity_id", r.id, "error", err)
				continue
			}
			reschedule = true

		case StateUpgrading:
			replacement, returned := byID[s.id]
			if !returned {
				stored, alive := r.ref.Load()
				if !alive {
					e.logger.Warn("dropping dead entity reference", "entity_id", r.id, "event", "dead_reference")
					e.records.remove(r.id)
					continue
				}
				replacement = stored.WithUpgradeIndex(res.upgradeIndex)
			}
			if replacement.Kind != r.kind {
				err := NewKindMismatchError(e.connectionID, r.id, r.kind.String(), replacement.Kind.String())
				e.logger.Error("upgrade returned wrong entity kind", "entity_id", r.id, "error", err)
				e.report(err)
				continue
			}
			// The committed index is the one the batch ran to, whatever the host echoed.
			replacement.UpgradeIndex = ir.IntPtr(res.upgradeIndex)

			if err := e.store.Replace(ctx, replacement); err != nil {
				e.logger.Error("commit of upgraded entity failed", "entity_id", r.id, "error", err)
				if e.degradeRecord(ctx, r, err) {
					retry = true
				}
				continue
			}
			if err := r.transition(ctx, transUpgraded); err != nil {
				e.logger.Error("upgraded transition rejected", "entity_id", r.id, "error", err)
				continue
			}
			r.budget.Reset()
			r.degraded = false
			r.exhausted = false
			e.retry.Reset()

		default:
			// Forgotten while in flight.
		}
	}

	e.publishRecordStates()
	if reschedule {
		e.schedule()
	}
	if retry {
		e.scheduleRetry()
	}
}

// handleUpgradeFailure degrades every member of a rejected batch: an
// Upgrading record is assumed current and becomes Ready, an invalidated one
// goes back to Unloaded. Then a pass is scheduled.
func (e *Engine) handleUpgradeFailure(ctx context.Context, res *upgradeResult) {
	err := NewAdapterError(e.connectionID, res.op, len(res.sent), res.err)
	e.logger.Warn("host rejected upgrade batch, continuing without upgrade",
		"op", res.op,
		"batch_size", len(res.sent),
		"error", err,
	)

	retry := false
	for _, s := range res.sent {
		r, ok := e.current(s)
		if !ok {
			continue
		}
		switch r.state() {
		case StateUpgrading:
			if e.degradeRecord(ctx, r, res.err) {
				retry = true
			}
		case StateUpgradingInvalidated:
			if err := r.transition(ctx, transReprocess); err != nil {
				e.logger.Error("reprocess transition rejected", "entity_id", r.id, "error", err)
				continue
			}
			e.metrics.Degraded(e.connectionID, 1)
			e.checkBudget(r, res.err)
		}
	}

	e.publishRecordStates()
	e.schedule()
	if retry {
		e.scheduleRetry()
	}
}

// degradeRecord advances an Upgrading record to Ready without an upgrade.
// Returns true if the record may be retried later.
func (e *Engine) degradeRecord(ctx context.Context, r *record, cause error) bool {
	if err := r.transition(ctx, transDegrade); err != nil {
		e.logger.Error("degrade transition rejected", "entity_id", r.id, "error", err)
		return false
	}
	r.degraded = true
	e.metrics.Degraded(e.connectionID, 1)
	return e.checkBudget(r, cause)
}

// checkBudget counts one rejection against r and reports exhaustion once.
func (e *Engine) checkBudget(r *record, cause error) bool {
	err := r.budget.Check(r.id, cause)
	if err == nil {
		return r.budget.Retryable()
	}

	var ue *UpgradeExhaustedError
	if errors.As(err, &ue) {
		ue.ConnectionID = e.connectionID
	}
	if !r.exhausted {
		r.exhausted = true
		e.logger.Error("upgrade retries exhausted",
			"entity_id", r.id,
			"control_id", r.controlID,
			"attempts", r.budget.Current(),
			"event", "upgrade_exhausted",
		)
		e.metrics.Exhausted(e.connectionID)
		e.report(err)
	}
	return false
}

// scheduleRetry arms the backoff timer that demotes degraded records back
// to Unloaded. Only one timer is pending at a time.
func (e *Engine) scheduleRetry() {
	if e.retryStop != nil || !e.ready {
		return
	}
	delay := e.retry.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	generation := e.generation
	e.retryStop = e.timers.AfterFunc(delay, func() {
		e.queue.Enqueue(event{typ: eventRetryDegraded, generation: generation})
	})
	e.logger.Debug("upgrade retry scheduled", "delay", delay)
}

func (e *Engine) stopRetry() {
	if e.retryStop != nil {
		e.retryStop()
		e.retryStop = nil
	}
}

func (e *Engine) handleRetryDegraded(ctx context.Context, generation uint64) error {
	if generation != e.generation {
		return nil
	}
	e.retryStop = nil
	if !e.ready {
		return nil
	}

	retried := 0
	for _, r := range e.records.snapshot() {
		if !r.degraded || r.state() != StateReady || !r.budget.Retryable() {
			continue
		}
		if err := r.transition(ctx, transInvalidate); err != nil {
			return err
		}
		r.degraded = false
		retried++
	}
	if retried > 0 {
		e.logger.Info("retrying degraded upgrades", "entities", retried)
		e.schedule()
	}
	return nil
}
