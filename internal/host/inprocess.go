package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/entsync/internal/ir"
)

// Module is the host-side logic of a connection. It has the same shape as
// engine.HostAdapter; the adapters in this package decide how a call
// reaches it.
type Module interface {
	UpdateActions(ctx context.Context, batch []ir.ActionUpdate) error
	UpdateFeedbacks(ctx context.Context, batch []ir.FeedbackUpdate) error
	UpgradeActions(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)
	UpgradeFeedbacks(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)
}

// PanicError is returned when a module panics during a call.
type PanicError struct {
	Method string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("module panicked in %s: %v", e.Method, e.Value)
}

// InProcess adapts a Module living in the hub process.
type InProcess struct {
	module Module
	logger *slog.Logger
}

// NewInProcess wraps m.
func NewInProcess(m Module, opts ...Option) *InProcess {
	o := buildOptions(opts)
	return &InProcess{module: m, logger: o.logger}
}

func (p *InProcess) recoverPanic(method string, err *error) {
	if r := recover(); r != nil {
		p.logger.Error("module panic", "method", method, "panic", r)
		*err = &PanicError{Method: method, Value: r}
	}
}

// UpdateActions hands a deep copy of batch to the module.
func (p *InProcess) UpdateActions(ctx context.Context, batch []ir.ActionUpdate) (err error) {
	defer p.recoverPanic(MethodUpdateActions, &err)
	var cp []ir.ActionUpdate
	if err := deepcopy.Copy(&cp, batch); err != nil {
		return fmt.Errorf("copy %s batch: %w", MethodUpdateActions, err)
	}
	return p.module.UpdateActions(ctx, cp)
}

// UpdateFeedbacks hands a deep copy of batch to the module.
func (p *InProcess) UpdateFeedbacks(ctx context.Context, batch []ir.FeedbackUpdate) (err error) {
	defer p.recoverPanic(MethodUpdateFeedbacks, &err)
	var cp []ir.FeedbackUpdate
	if err := deepcopy.Copy(&cp, batch); err != nil {
		return fmt.Errorf("copy %s batch: %w", MethodUpdateFeedbacks, err)
	}
	return p.module.UpdateFeedbacks(ctx, cp)
}

// UpgradeActions hands copies of batch to the module and copies the
// result back.
func (p *InProcess) UpgradeActions(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) (out []ir.Entity, err error) {
	defer p.recoverPanic(MethodUpgradeActions, &err)
	upgraded, err := p.module.UpgradeActions(ctx, cloneEntities(batch), currentUpgradeIndex)
	return cloneEntities(upgraded), err
}

// UpgradeFeedbacks hands copies of batch to the module and copies the
// result back.
func (p *InProcess) UpgradeFeedbacks(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) (out []ir.Entity, err error) {
	defer p.recoverPanic(MethodUpgradeFeedbacks, &err)
	upgraded, err := p.module.UpgradeFeedbacks(ctx, cloneEntities(batch), currentUpgradeIndex)
	return cloneEntities(upgraded), err
}

// cloneEntities uses Entity.Clone rather than deepcopy: EntityKind has an
// unexported field that reflection-based copying would drop.
func cloneEntities(batch []ir.Entity) []ir.Entity {
	if batch == nil {
		return nil
	}
	out := make([]ir.Entity, len(batch))
	for i, e := range batch {
		out[i] = e.Clone()
	}
	return out
}
