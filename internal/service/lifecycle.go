package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/outbox"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// Lifecycler drives broadcast state transitions. Every transition lands in
// the durable store together with the outbox events it implies, inside one
// transaction.
type Lifecycler interface {
	CreateBroadcast(ctx context.Context, b *model.Broadcast) (*model.Broadcast, error)
	CancelBroadcast(ctx context.Context, id uuid.UUID) error
	ExpireBroadcast(ctx context.Context, b *model.Broadcast) error
	ActivateScheduled(ctx context.Context, b *model.Broadcast) error
	ActivateReady(ctx context.Context, b *model.Broadcast) error
	BeginPrecompute(ctx context.Context, b *model.Broadcast) error
}

// lifecycleStore is the slice of the durable store lifecycle transitions use.
type lifecycleStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	Pool() *pgxpool.Pool
	InsertBroadcast(ctx context.Context, q postgres.Querier, b *model.Broadcast) error
	GetBroadcast(ctx context.Context, id uuid.UUID) (*model.Broadcast, error)
	TransitionBroadcast(ctx context.Context, q postgres.Querier, id uuid.UUID, from, to model.BroadcastStatus) error
	SupersedePending(ctx context.Context, q postgres.Querier, broadcastID uuid.UUID) ([]uuid.UUID, error)
	DeliveredUsers(ctx context.Context, broadcastID uuid.UUID) ([]uuid.UUID, error)
	PendingUserIDs(ctx context.Context, broadcastID uuid.UUID, afterID int64, limit int) ([]*model.UserBroadcast, error)
}

// eventEmitter is the outbox surface the manager writes through.
type eventEmitter interface {
	Emit(ctx context.Context, tx pgx.Tx, ev *model.MessageDeliveryEvent) error
	EmitBatch(ctx context.Context, tx pgx.Tx, evs []*model.MessageDeliveryEvent) error
}

type LifecycleManager struct {
	store     lifecycleStore
	publisher eventEmitter
	cache     ContentProvider
	logger    *slog.Logger
	pageSize  int
}

func NewLifecycleManager(store *postgres.Store, publisher *outbox.Publisher, cache ContentProvider, logger *slog.Logger, cfg *config.Config) *LifecycleManager {
	return &LifecycleManager{
		store:     store,
		publisher: publisher,
		cache:     cache,
		logger:    logger.With("component", "lifecycle"),
		pageSize:  cfg.DB.BatchSize,
	}
}

// CreateBroadcast validates the request and persists it in its initial state:
//
//   - scheduled in the future -> SCHEDULED, picked up by the schedulers;
//   - immediate PRODUCT audience -> PREPARING, the targeting engine
//     precomputes delivery rows before activation;
//   - any other immediate audience -> ACTIVE, with one group event emitted
//     for read-side fan-out.
func (m *LifecycleManager) CreateBroadcast(ctx context.Context, b *model.Broadcast) (*model.Broadcast, error) {
	if err := b.Target.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid target", err)
	}
	now := time.Now().UTC()
	if b.ScheduledAt != nil && b.ScheduledAt.Before(now) {
		return nil, apperr.New(apperr.KindValidation, "scheduledAt must be in the future")
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
		return nil, apperr.New(apperr.KindValidation, "expiresAt must be in the future")
	}
	if b.Target.Type == model.TargetSelected {
		b.Target.UserIDs = b.Target.DedupedUserIDs()
	}

	b.ID = uuid.New()
	if b.Priority == "" {
		b.Priority = model.PriorityNormalBroadcast
	}
	b.CreatedAt = now
	b.UpdatedAt = now

	switch {
	case b.ScheduledAt != nil:
		b.Status = model.StatusScheduled
	case b.Target.FanOutOnWrite():
		b.Status = model.StatusPreparing
	default:
		b.Status = model.StatusActive
	}

	err := m.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := m.store.InsertBroadcast(ctx, tx, b); err != nil {
			return err
		}
		if b.Status != model.StatusActive {
			return nil
		}
		ev := model.NewGroupDeliveryEvent(b.ID, b.Target, model.EventCreated)
		ev.FireAndForget = b.FireAndForget
		return m.publisher.Emit(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	m.cache.Prime(ctx, b)
	m.logger.Info("broadcast created",
		"broadcast_id", b.ID, "status", b.Status, "target", b.Target.Type)
	return b, nil
}

// CancelBroadcast moves a non-terminal broadcast to CANCELLED, supersedes its
// pending delivery rows and emits one CANCELLED event per affected user so
// live streams see the message disappear.
func (m *LifecycleManager) CancelBroadcast(ctx context.Context, id uuid.UUID) error {
	b, err := m.store.GetBroadcast(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(b.Status, model.StatusCancelled) {
		return apperr.Newf(apperr.KindValidation, "broadcast %s cannot be cancelled from %s", id, b.Status)
	}
	if err := m.terminate(ctx, b, model.StatusCancelled, model.EventCancelled); err != nil {
		return err
	}
	m.logger.Info("broadcast cancelled", "broadcast_id", id)
	return nil
}

// ExpireBroadcast moves an ACTIVE broadcast past its deadline to EXPIRED,
// emitting removal events the same way cancel does. Invoked by the expiration
// scheduler only.
func (m *LifecycleManager) ExpireBroadcast(ctx context.Context, b *model.Broadcast) error {
	if err := m.terminate(ctx, b, model.StatusExpired, model.EventExpired); err != nil {
		return err
	}
	m.logger.Info("broadcast expired", "broadcast_id", b.ID)
	return nil
}

// terminate is the shared cancel/expire path. Users whose rows already
// reached DELIVERED get a removal event too: their streams rendered the
// message and must drop it.
func (m *LifecycleManager) terminate(ctx context.Context, b *model.Broadcast, to model.BroadcastStatus, kind model.DeliveryEventType) error {
	delivered, err := m.store.DeliveredUsers(ctx, b.ID)
	if err != nil {
		return err
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := m.store.TransitionBroadcast(ctx, tx, b.ID, b.Status, to); err != nil {
			return err
		}
		superseded, err := m.store.SupersedePending(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		events := make([]*model.MessageDeliveryEvent, 0, len(superseded)+len(delivered))
		for _, userID := range append(superseded, delivered...) {
			events = append(events, model.NewDeliveryEvent(b.ID, userID, kind))
		}
		return m.publisher.EmitBatch(ctx, tx, events)
	})
	if err != nil {
		return err
	}

	m.cache.Invalidate(ctx, b.ID)
	return nil
}

// ActivateScheduled promotes a due SCHEDULED read-side broadcast straight to
// ACTIVE with one group event.
func (m *LifecycleManager) ActivateScheduled(ctx context.Context, b *model.Broadcast) error {
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := m.store.TransitionBroadcast(ctx, tx, b.ID, model.StatusScheduled, model.StatusActive); err != nil {
			return err
		}
		ev := model.NewGroupDeliveryEvent(b.ID, b.Target, model.EventCreated)
		ev.FireAndForget = b.FireAndForget
		return m.publisher.Emit(ctx, tx, ev)
	})
	if err != nil {
		return err
	}
	b.Status = model.StatusActive
	m.cache.Prime(ctx, b)
	m.logger.Info("scheduled broadcast activated", "broadcast_id", b.ID)
	return nil
}

// ActivateReady turns a precomputed READY broadcast ACTIVE. Per-user CREATED
// events are emitted page by page before the status flips: a crash mid-way
// leaves the broadcast READY and the next activation tick re-emits, which is
// harmless because delivery transitions are monotonic.
func (m *LifecycleManager) ActivateReady(ctx context.Context, b *model.Broadcast) error {
	var afterID int64
	for {
		rows, err := m.store.PendingUserIDs(ctx, b.ID, afterID, m.pageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		err = m.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			events := make([]*model.MessageDeliveryEvent, 0, len(rows))
			for _, row := range rows {
				ev := model.NewDeliveryEvent(b.ID, row.UserID, model.EventCreated)
				ev.FireAndForget = b.FireAndForget
				events = append(events, ev)
			}
			return m.publisher.EmitBatch(ctx, tx, events)
		})
		if err != nil {
			return err
		}
		afterID = rows[len(rows)-1].ID
	}

	if err := m.store.TransitionBroadcast(ctx, m.store.Pool(), b.ID, model.StatusReady, model.StatusActive); err != nil {
		return err
	}
	b.Status = model.StatusActive
	m.cache.Prime(ctx, b)
	m.logger.Info("precomputed broadcast activated", "broadcast_id", b.ID)
	return nil
}

// BeginPrecompute moves a due SCHEDULED write-side broadcast to PREPARING so
// the targeting engine takes over.
func (m *LifecycleManager) BeginPrecompute(ctx context.Context, b *model.Broadcast) error {
	if err := m.store.TransitionBroadcast(ctx, m.store.Pool(), b.ID, model.StatusScheduled, model.StatusPreparing); err != nil {
		return err
	}
	b.Status = model.StatusPreparing
	return nil
}
