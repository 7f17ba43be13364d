package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/entsync/internal/ir"
)

// Transport carries one request to a module and returns its reply.
// A module-side failure is reported as a *RemoteError.
type Transport interface {
	Call(ctx context.Context, method string, body []byte) ([]byte, error)
}

// RemoteError is a failure reported by the module rather than by the
// transport.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("module rejected %s: %s", e.Method, e.Message)
}

// Remote is a HostAdapter for a module reached through a Transport.
type Remote struct {
	connectionID string
	transport    Transport
	logger       *slog.Logger
	tracer       trace.Tracer
	timeout      time.Duration
}

// NewRemote creates an adapter for connectionID over t.
func NewRemote(connectionID string, t Transport, opts ...Option) *Remote {
	o := buildOptions(opts)
	return &Remote{
		connectionID: connectionID,
		transport:    t,
		logger:       o.logger.With("connection", connectionID),
		tracer:       o.tracer,
		timeout:      o.timeout,
	}
}

// UpdateActions sends an update-actions batch.
func (r *Remote) UpdateActions(ctx context.Context, batch []ir.ActionUpdate) error {
	return r.call(ctx, MethodUpdateActions, len(batch), updateActionsRequest{Updates: actionUpdatesToWire(batch)}, nil)
}

// UpdateFeedbacks sends an update-feedbacks batch.
func (r *Remote) UpdateFeedbacks(ctx context.Context, batch []ir.FeedbackUpdate) error {
	return r.call(ctx, MethodUpdateFeedbacks, len(batch), updateFeedbacksRequest{Updates: feedbackUpdatesToWire(batch)}, nil)
}

// UpgradeActions sends an upgrade-actions batch.
func (r *Remote) UpgradeActions(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return r.upgrade(ctx, MethodUpgradeActions, batch, currentUpgradeIndex)
}

// UpgradeFeedbacks sends an upgrade-feedbacks batch.
func (r *Remote) UpgradeFeedbacks(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error) {
	return r.upgrade(ctx, MethodUpgradeFeedbacks, batch, currentUpgradeIndex)
}

func (r *Remote) upgrade(ctx context.Context, method string, batch []ir.Entity, index int) ([]ir.Entity, error) {
	req := upgradeRequest{Entities: entitiesToWire(batch), CurrentUpgradeIndex: index}
	var resp upgradeResponse
	if err := r.call(ctx, method, len(batch), req, &resp); err != nil {
		return nil, err
	}
	upgraded, err := entitiesFromWire(resp.Entities)
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", method, err)
	}
	return upgraded, nil
}

func (r *Remote) call(ctx context.Context, method string, size int, req, resp any) error {
	ctx, span := r.tracer.Start(ctx, "entsync.host."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entsync.connection", r.connectionID),
			attribute.Int("entsync.batch_size", size),
		),
	)
	defer span.End()

	err := r.roundTrip(ctx, method, req, resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("remote call failed", "method", method, "batch_size", size, "error", err)
	}
	return err
}

func (r *Remote) roundTrip(ctx context.Context, method string, req, resp any) error {
	body, err := marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reply, err := r.transport.Call(ctx, method, body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp == nil || len(reply) == 0 {
		return nil
	}
	if err := unmarshal(reply, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}
