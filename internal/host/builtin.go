package host

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/entsync/internal/ir"
)

// UpgradeScript migrates one entity by one schema step. It reports whether
// it changed the entity.
type UpgradeScript func(e *ir.Entity) bool

// Builtin is the hub's own module.
//
// Upgrade scripts are ordered: scripts[i] takes an entity from upgrade
// index i to i+1. An upgrade call runs, for each entity, every script from
// its stored index up to the connection's current index. Entities that no
// script touched are left out of the reply; the engine commits those as
// already current.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Builtin struct {
	actionScripts   []UpgradeScript
	feedbackScripts []UpgradeScript
	logger          *slog.Logger

	mu        sync.Mutex
	actions   map[string]ir.ActionPayload
	feedbacks map[string]ir.FeedbackPayload
}

// NewBuiltin creates a module with the given upgrade scripts.
func NewBuiltin(actionScripts, feedbackScripts []UpgradeScript, opts ...Option) *Builtin {
	o := buildOptions(opts)
	return &Builtin{
		actionScripts:   actionScripts,
		feedbackScripts: feedbackScripts,
		logger:          o.logger,
		actions:         make(map[string]ir.ActionPayload),
		feedbacks:       make(map[string]ir.FeedbackPayload),
	}
}

// UpgradeIndex is the index entities reach after every script ran.
func (b *Builtin) UpgradeIndex() int {
	return max(len(b.actionScripts), len(b.feedbackScripts))
}

// UpdateActions applies subscriptions and deletion markers.
func (b *Builtin) UpdateActions(_ context.Context, batch []ir.ActionUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range batch {
		if u.IsDelete() {
			delete(b.actions, u.ID)
			continue
		}
		b.actions[u.ID] = *u.Payload
	}
	return nil
}

// UpdateFeedbacks applies subscriptions and deletion markers.
func (b *Builtin) UpdateFeedbacks(_ context.Context, batch []ir.FeedbackUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range batch {
		if u.IsDelete() {
			delete(b.feedbacks, u.ID)
			continue
		}
		b.feedbacks[u.ID] = *u.Payload
	}
	return nil
}

// UpgradeActions runs the action scripts.
func (b *Builtin) UpgradeActions(_ context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return b.upgrade(b.actionScripts, batch, currentUpgradeIndex), nil
}

// UpgradeFeedbacks runs the feedback scripts.
func (b *Builtin) UpgradeFeedbacks(_ context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return b.upgrade(b.feedbackScripts, batch, currentUpgradeIndex), nil
}

func (b *Builtin) upgrade(scripts []UpgradeScript, batch []ir.Entity, current int) []ir.Entity {
	var out []ir.Entity
	for _, e := range batch {
		from := 0
		if e.UpgradeIndex != nil {
			from = max(*e.UpgradeIndex, 0)
		}
		upgraded := e.Clone()
		changed := false
		for i := from; i < current && i < len(scripts); i++ {
			if scripts[i](&upgraded) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		upgraded.UpgradeIndex = ir.IntPtr(current)
		b.logger.Debug("builtin upgraded entity", "entity_id", e.ID, "from", from, "to", current)
		out = append(out, upgraded)
	}
	return out
}

// Action returns the subscription for an action id.
func (b *Builtin) Action(id string) (ir.ActionPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.actions[id]
	return p, ok
}

// Feedback returns the subscription for a feedback id.
func (b *Builtin) Feedback(id string) (ir.FeedbackPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.feedbacks[id]
	return p, ok
}

// Subscriptions returns the subscribed action and feedback ids, sorted.
func (b *Builtin) Subscriptions() (actions, feedbacks []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.actions {
		actions = append(actions, id)
	}
	for id := range b.feedbacks {
		feedbacks = append(feedbacks, id)
	}
	slices.Sort(actions)
	slices.Sort(feedbacks)
	return actions, feedbacks
}

// RenameOption moves an option key on entities of one definition.
func RenameOption(definitionID, from, to string) UpgradeScript {
	return func(e *ir.Entity) bool {
		if e.DefinitionID != definitionID {
			return false
		}
		v, ok := e.Options[from]
		if !ok {
			return false
		}
		delete(e.Options, from)
		e.Options[to] = v
		return true
	}
}

// DefaultOption sets an option on entities of one definition that lack it.
func DefaultOption(definitionID, key string, value ir.IRValue) UpgradeScript {
	return func(e *ir.Entity) bool {
		if e.DefinitionID != definitionID {
			return false
		}
		if _, ok := e.Options[key]; ok {
			return false
		}
		if e.Options == nil {
			e.Options = ir.IRObject{}
		}
		e.Options[key] = ir.CloneValue(value)
		return true
	}
}

// Noop is a script that changes nothing. It fills a step that only one
// kind needed.
func Noop(*ir.Entity) bool { return false }
