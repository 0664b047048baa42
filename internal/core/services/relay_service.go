package services

import (
	"context"
	"encoding/json"
	"fmt"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/tracing"

	"go.uber.org/zap"
)

// relayService routes offer, answer and candidate payloads between members
// of the same room. It keeps no state of its own.
type relayService struct {
	dir     ports.Directory
	metrics ports.RoomMetrics
	logger  *zap.SugaredLogger
}

func NewRelayService(dir ports.Directory, metrics ports.RoomMetrics, logger *zap.SugaredLogger) ports.SignalRelay {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &relayService{
		dir:     dir,
		metrics: metrics,
		logger:  logger,
	}
}

func (r *relayService) Relay(ctx context.Context, from, target domain.ParticipantID, kind string, payload json.RawMessage) error {
	ctx, span := tracing.TraceSignalRelay(ctx, kind, string(target))
	defer span.End()

	err := r.relay(ctx, from, target, kind, payload)
	if err != nil {
		tracing.RecordError(ctx, err, tracing.ErrorCodeKey.String(string(errors.FromDomain(err).Code)))
	}
	return err
}

func (r *relayService) relay(ctx context.Context, from, target domain.ParticipantID, kind string, payload json.RawMessage) error {
	sig, err := domain.NewSignal(kind, payload)
	if err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: missing target", domain.ErrInvalidSignal)
	}
	if target == from {
		return fmt.Errorf("%w: cannot signal yourself", domain.ErrInvalidSignal)
	}

	fromRoom, ok := r.dir.CurrentRoom(from)
	if !ok {
		return domain.ErrNotInRoom
	}
	tracing.Annotate(ctx, tracing.RoomIDKey.String(string(fromRoom)))
	targetRoom, ok := r.dir.CurrentRoom(target)
	if !ok || targetRoom != fromRoom || !r.dir.IsRegistered(target) {
		r.logger.Infow("Signal target unavailable",
			"from", from,
			"target", target,
			"kind", sig.Kind,
			"room_id", fromRoom,
		)
		return domain.ErrTargetUnavailable
	}

	msg, err := domain.Encode(domain.EventSignal, domain.SignalPayload{
		From:    from,
		Kind:    sig.Kind,
		Payload: sig.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	// a target that vanished after the lookup is not the sender's problem
	if r.dir.Send(target, msg) {
		r.metrics.IncSignals(string(sig.Kind))
	}
	r.logger.Debugw("Signal relayed",
		"from", from,
		"target", target,
		"kind", sig.Kind,
		"room_id", fromRoom,
	)
	return nil
}
