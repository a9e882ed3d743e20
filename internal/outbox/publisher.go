// Package outbox implements the transactional outbox: the only path from a
// business state change to the message log.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// Publisher serializes delivery events into outbox rows. Every method takes
// the caller's pgx.Tx: emitting outside a transaction is impossible by
// construction, not a runtime check.
type Publisher struct {
	store *postgres.Store
	topic string
}

func NewPublisher(store *postgres.Store, cfg *config.Config) *Publisher {
	return &Publisher{
		store: store,
		topic: cfg.Kafka.Topic.NameOrchestration,
	}
}

// Emit appends one event to the outbox within tx.
func (p *Publisher) Emit(ctx context.Context, tx pgx.Tx, ev *model.MessageDeliveryEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode delivery event %s: %w", ev.EventID, err)
	}
	return p.store.InsertOutboxEvent(ctx, tx, &model.OutboxEvent{
		ID:          ev.EventID,
		AggregateID: ev.PartitionKey(),
		EventType:   string(ev.EventType),
		Topic:       p.topic,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	})
}

// EmitBatch appends events preserving slice order, which becomes the
// per-aggregate publish order.
func (p *Publisher) EmitBatch(ctx context.Context, tx pgx.Tx, evs []*model.MessageDeliveryEvent) error {
	for _, ev := range evs {
		if err := p.Emit(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Topic exposes the orchestration topic for components that republish
// (DLT redrive).
func (p *Publisher) Topic() string { return p.topic }
