package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// lifecycleMiddleware decorates Lifecycler with execution timing and outcome
// logging, keeping observability out of the business code.
type lifecycleMiddleware struct {
	next   Lifecycler
	logger *slog.Logger
}

func (m *lifecycleMiddleware) CreateBroadcast(ctx context.Context, b *model.Broadcast) (*model.Broadcast, error) {
	start := time.Now()
	out, err := m.next.CreateBroadcast(ctx, b)
	if err != nil {
		m.logger.Error("broadcast creation failed",
			"target", b.Target.Type, "err", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return out, err
}

func (m *lifecycleMiddleware) CancelBroadcast(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := m.next.CancelBroadcast(ctx, id)
	if err != nil {
		m.logger.Error("broadcast cancellation failed",
			"broadcast_id", id, "err", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return err
}

func (m *lifecycleMiddleware) ExpireBroadcast(ctx context.Context, b *model.Broadcast) error {
	return m.logged(ctx, "expiration", b, m.next.ExpireBroadcast)
}

func (m *lifecycleMiddleware) ActivateScheduled(ctx context.Context, b *model.Broadcast) error {
	return m.logged(ctx, "scheduled activation", b, m.next.ActivateScheduled)
}

func (m *lifecycleMiddleware) ActivateReady(ctx context.Context, b *model.Broadcast) error {
	return m.logged(ctx, "ready activation", b, m.next.ActivateReady)
}

func (m *lifecycleMiddleware) BeginPrecompute(ctx context.Context, b *model.Broadcast) error {
	return m.logged(ctx, "precompute handoff", b, m.next.BeginPrecompute)
}

func (m *lifecycleMiddleware) logged(ctx context.Context, op string, b *model.Broadcast, fn func(context.Context, *model.Broadcast) error) error {
	start := time.Now()
	err := fn(ctx, b)
	if err != nil {
		m.logger.Error("broadcast "+op+" failed",
			"broadcast_id", b.ID, "err", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return err
}
