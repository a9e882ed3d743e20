package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/adapter/logbus"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

const pollerLease = "outbox-poller"

// pollerStore is the slice of the durable store the poller drives.
type pollerStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	ClaimOutboxBatch(ctx context.Context, tx pgx.Tx, limit int) ([]*model.OutboxEvent, error)
	DeleteOutboxEvents(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error
	QuarantineOutboxEvent(ctx context.Context, tx pgx.Tx, ev *model.OutboxEvent, reason string) error
	TryAcquireLease(ctx context.Context, name, owner string, atMostFor time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string, atLeastFor time.Duration) error
}

// Poller drains the outbox to the log. One admin process runs it at a time,
// gated by the cross-process lease; rows publish synchronously and are
// deleted in the same transaction, so a crash anywhere leaves them for retry
// (at-least-once).
type Poller struct {
	store     pollerStore
	publisher message.Publisher
	logger    *slog.Logger

	interval   time.Duration
	batchSize  int
	owner      string
	atLeastFor time.Duration
	atMostFor  time.Duration
}

func NewPoller(store *postgres.Store, publisher message.Publisher, logger *slog.Logger, cfg *config.Config) *Poller {
	return &Poller{
		store:      store,
		publisher:  publisher,
		logger:     logger.With("component", "outbox_poller"),
		interval:   cfg.Outbox.PollInterval,
		batchSize:  cfg.Outbox.BatchSize,
		owner:      cfg.Pod.ID,
		atLeastFor: cfg.Schedule.LockAtLeastFor,
		atMostFor:  cfg.Schedule.LockAtMostFor,
	}
}

// Run loops until ctx is cancelled. Errors log and surrender the lease; the
// next tick retries.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := p.store.TryAcquireLease(ctx, pollerLease, p.owner, p.atMostFor)
			if err != nil {
				p.logger.Error("lease acquisition failed", "err", err)
				continue
			}
			if !acquired {
				continue
			}
			if n, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll failed", "err", err)
			} else if n > 0 {
				p.logger.Debug("outbox drained", "published", n)
			}
			if err := p.store.ReleaseLease(ctx, pollerLease, p.owner, p.atLeastFor); err != nil {
				p.logger.Warn("lease release failed", "err", err)
			}
		}
	}
}

// PollOnce publishes one claimed batch. Poison rows move to quarantine in the
// same transaction; any broker failure aborts everything so no row is lost.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events, err := p.store.ClaimOutboxBatch(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}

		var done []uuid.UUID
		for _, ev := range events {
			var decoded model.MessageDeliveryEvent
			if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
				p.logger.Error("poison outbox row quarantined",
					"outbox_id", ev.ID, "aggregate_id", ev.AggregateID, "err", err)
				if qErr := p.store.QuarantineOutboxEvent(ctx, tx, ev, err.Error()); qErr != nil {
					return qErr
				}
				continue
			}

			msg := message.NewMessage(ev.ID.String(), ev.Payload)
			msg.Metadata.Set(logbus.MetaPartitionKey, ev.AggregateID)
			msg.Metadata.Set("event_type", ev.EventType)
			if err := p.publisher.Publish(ev.Topic, msg); err != nil {
				return apperr.Wrap(apperr.KindLogUnavailable, "publish outbox event", err)
			}
			done = append(done, ev.ID)
		}

		if err := p.store.DeleteOutboxEvents(ctx, tx, done); err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	return published, err
}
