package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownMethod is returned by Server.Handle for a method it does not
// serve.
var ErrUnknownMethod = errors.New("unknown method")

// Server decodes requests and dispatches them to a Module.
type Server struct {
	module Module
	logger *slog.Logger
	tracer trace.Tracer
}

// NewServer creates a dispatcher for m.
func NewServer(m Module, opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{module: m, logger: o.logger, tracer: o.tracer}
}

// Handle serves one request and returns the encoded reply.
func (s *Server) Handle(ctx context.Context, method string, body []byte) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "entsync.host."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("entsync.method", method)),
	)
	defer span.End()

	reply, err := s.dispatch(ctx, method, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("module call failed", "method", method, "error", err)
		return nil, err
	}
	return reply, nil
}

func (s *Server) dispatch(ctx context.Context, method string, body []byte) ([]byte, error) {
	switch method {
	case MethodUpdateActions:
		var req updateActionsRequest
		if err := unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		batch, err := actionUpdatesFromWire(req.Updates)
		if err != nil {
			return nil, err
		}
		if err := s.module.UpdateActions(ctx, batch); err != nil {
			return nil, err
		}
		return marshal(emptyResponse{})

	case MethodUpdateFeedbacks:
		var req updateFeedbacksRequest
		if err := unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		batch, err := feedbackUpdatesFromWire(req.Updates)
		if err != nil {
			return nil, err
		}
		if err := s.module.UpdateFeedbacks(ctx, batch); err != nil {
			return nil, err
		}
		return marshal(emptyResponse{})

	case MethodUpgradeActions, MethodUpgradeFeedbacks:
		var req upgradeRequest
		if err := unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		batch, err := entitiesFromWire(req.Entities)
		if err != nil {
			return nil, err
		}
		upgrade := s.module.UpgradeActions
		if method == MethodUpgradeFeedbacks {
			upgrade = s.module.UpgradeFeedbacks
		}
		upgraded, err := upgrade(ctx, batch, req.CurrentUpgradeIndex)
		if err != nil {
			return nil, err
		}
		return marshal(upgradeResponse{Entities: entitiesToWire(upgraded)})
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMethod, method)
}

// Loopback is a Transport that calls a Server directly.
type Loopback struct {
	Server *Server
}

// Call implements Transport.
func (l Loopback) Call(ctx context.Context, method string, body []byte) ([]byte, error) {
	reply, err := l.Server.Handle(ctx, method, body)
	if err != nil {
		return nil, &RemoteError{Method: method, Message: err.Error()}
	}
	return reply, nil
}
