package grid

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// Interface guard
var _ Grid = (*BreakerGrid)(nil)

// BreakerGrid wraps a backend with a circuit breaker. While the breaker is
// open every call fails fast with GridUnavailable, letting callers fall back
// to local caches and the durable store instead of piling up on a dead grid.
type BreakerGrid struct {
	next Grid
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerGrid(next Grid) *BreakerGrid {
	return &BreakerGrid{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "grid",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// Business outcomes must not trip the breaker.
				if err == nil {
					return true
				}
				switch apperr.KindOf(err) {
				case apperr.KindConflictCAS, apperr.KindNotFound:
					return true
				}
				return false
			},
		}),
	}
}

func (b *BreakerGrid) do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.KindGridUnavailable, "grid circuit open", err)
	}
	return err
}

func (b *BreakerGrid) GetConnections(ctx context.Context, userID uuid.UUID) (set model.ConnectionSet, ver int64, err error) {
	err = b.do(func() (e error) { set, ver, e = b.next.GetConnections(ctx, userID); return })
	return
}

func (b *BreakerGrid) PutConnections(ctx context.Context, userID uuid.UUID, set model.ConnectionSet, version int64) error {
	return b.do(func() error { return b.next.PutConnections(ctx, userID, set, version) })
}

func (b *BreakerGrid) IsOnline(ctx context.Context, userID uuid.UUID) (ok bool, err error) {
	err = b.do(func() (e error) { ok, e = b.next.IsOnline(ctx, userID); return })
	return
}

func (b *BreakerGrid) OnlineUsers(ctx context.Context) (users []uuid.UUID, err error) {
	err = b.do(func() (e error) { users, e = b.next.OnlineUsers(ctx); return })
	return
}

func (b *BreakerGrid) ConnectionCounts(ctx context.Context) (users, conns int, err error) {
	err = b.do(func() (e error) { users, conns, e = b.next.ConnectionCounts(ctx); return })
	return
}

func (b *BreakerGrid) PutHeartbeat(ctx context.Context, connID uuid.UUID, hb model.Heartbeat) error {
	return b.do(func() error { return b.next.PutHeartbeat(ctx, connID, hb) })
}

func (b *BreakerGrid) GetHeartbeat(ctx context.Context, connID uuid.UUID) (hb model.Heartbeat, ok bool, err error) {
	err = b.do(func() (e error) { hb, ok, e = b.next.GetHeartbeat(ctx, connID); return })
	return
}

func (b *BreakerGrid) DeleteHeartbeat(ctx context.Context, connID uuid.UUID) error {
	return b.do(func() error { return b.next.DeleteHeartbeat(ctx, connID) })
}

func (b *BreakerGrid) Heartbeats(ctx context.Context) (out map[uuid.UUID]model.Heartbeat, err error) {
	err = b.do(func() (e error) { out, e = b.next.Heartbeats(ctx); return })
	return
}

func (b *BreakerGrid) PushInbox(ctx context.Context, userID uuid.UUID, entry model.InboxEntry) error {
	return b.do(func() error { return b.next.PushInbox(ctx, userID, entry) })
}

func (b *BreakerGrid) ListInbox(ctx context.Context, userID uuid.UUID, limit int) (out []model.InboxEntry, err error) {
	err = b.do(func() (e error) { out, e = b.next.ListInbox(ctx, userID, limit); return })
	return
}

func (b *BreakerGrid) RemoveInbox(ctx context.Context, userID, broadcastID uuid.UUID) error {
	return b.do(func() error { return b.next.RemoveInbox(ctx, userID, broadcastID) })
}

func (b *BreakerGrid) PutContent(ctx context.Context, bc *model.Broadcast) error {
	return b.do(func() error { return b.next.PutContent(ctx, bc) })
}

func (b *BreakerGrid) GetContent(ctx context.Context, id uuid.UUID) (bc *model.Broadcast, ok bool, err error) {
	err = b.do(func() (e error) { bc, ok, e = b.next.GetContent(ctx, id); return })
	return
}

func (b *BreakerGrid) DeleteContent(ctx context.Context, id uuid.UUID) error {
	return b.do(func() error { return b.next.DeleteContent(ctx, id) })
}

func (b *BreakerGrid) EnqueuePending(ctx context.Context, userID uuid.UUID, ev *model.MessageDeliveryEvent) error {
	return b.do(func() error { return b.next.EnqueuePending(ctx, userID, ev) })
}

func (b *BreakerGrid) DrainPending(ctx context.Context, userID uuid.UUID) (out []*model.MessageDeliveryEvent, err error) {
	err = b.do(func() (e error) { out, e = b.next.DrainPending(ctx, userID); return })
	return
}

func (b *BreakerGrid) PublishNotify(ctx context.Context, n Notification) error {
	return b.do(func() error { return b.next.PublishNotify(ctx, n) })
}

func (b *BreakerGrid) SubscribeNotify(ctx context.Context) (<-chan Notification, error) {
	// Subscriptions are long-lived; fail-fast semantics do not apply.
	return b.next.SubscribeNotify(ctx)
}

func (b *BreakerGrid) Close() error { return b.next.Close() }
