package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/adapter/logbus"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// DltAdmin is the operator surface over the dead-letter archive.
type DltAdmin interface {
	ListRecords(ctx context.Context, limit, offset int) ([]*model.DltRecord, error)
	Redrive(ctx context.Context, id int64) error
	RedriveAll(ctx context.Context) (int, error)
	Purge(ctx context.Context, id int64) error
	PurgeAll(ctx context.Context) (int64, error)
}

// dltStore is the slice of the durable store the manager needs.
type dltStore interface {
	GetDltRecord(ctx context.Context, id int64) (*model.DltRecord, error)
	ListDltRecords(ctx context.Context, limit, offset int) ([]*model.DltRecord, error)
	OldestDltRecords(ctx context.Context, limit int) ([]*model.DltRecord, error)
	DeleteDltRecord(ctx context.Context, id int64) error
	DeleteAllDltRecords(ctx context.Context) (int64, error)
	ResetForRedrive(ctx context.Context, broadcastID, userID uuid.UUID) error
}

type DltManager struct {
	store     dltStore
	publisher message.Publisher
	logger    *slog.Logger
}

func NewDltManager(store *postgres.Store, publisher message.Publisher, logger *slog.Logger) *DltManager {
	return &DltManager{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "dlt"),
	}
}

func (m *DltManager) ListRecords(ctx context.Context, limit, offset int) ([]*model.DltRecord, error) {
	return m.store.ListDltRecords(ctx, limit, offset)
}

// Redrive resets the delivery row the record refers to and republishes the
// original payload under its original key, so it lands on the same partition
// it failed on. The reset commits before the publish: a crash in between
// leaves a PENDING row with no event, which the next redrive attempt repairs.
func (m *DltManager) Redrive(ctx context.Context, id int64) error {
	rec, err := m.store.GetDltRecord(ctx, id)
	if err != nil {
		return err
	}

	var ev model.MessageDeliveryEvent
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		return apperr.Wrap(apperr.KindSerializationPoison, "dead-letter payload is not a delivery event", err)
	}

	if ev.EventType == model.EventCreated && ev.UserID != uuid.Nil {
		if err := m.store.ResetForRedrive(ctx, ev.BroadcastID, ev.UserID); err != nil {
			return err
		}
	}

	msg := message.NewMessage(ev.EventID.String(), rec.Payload)
	msg.Metadata.Set(logbus.MetaPartitionKey, rec.Key)
	if err := m.publisher.Publish(rec.OriginalTopic, msg); err != nil {
		return apperr.Wrap(apperr.KindLogUnavailable, "republish dead-letter record", err)
	}

	if err := m.store.DeleteDltRecord(ctx, id); err != nil {
		return err
	}
	m.logger.Info("dead-letter record redriven",
		"dlt_id", id, "topic", rec.OriginalTopic, "key", rec.Key)
	return nil
}

// RedriveAll walks the archive oldest first. A record that fails to redrive
// stops the pass; operators fix the cause and run it again.
func (m *DltManager) RedriveAll(ctx context.Context) (int, error) {
	redriven := 0
	for {
		page, err := m.store.OldestDltRecords(ctx, 100)
		if err != nil {
			return redriven, err
		}
		if len(page) == 0 {
			return redriven, nil
		}
		for _, rec := range page {
			if err := m.Redrive(ctx, rec.ID); err != nil {
				return redriven, err
			}
			redriven++
		}
	}
}

func (m *DltManager) Purge(ctx context.Context, id int64) error {
	if err := m.store.DeleteDltRecord(ctx, id); err != nil {
		return err
	}
	m.logger.Info("dead-letter record purged", "dlt_id", id)
	return nil
}

func (m *DltManager) PurgeAll(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteAllDltRecords(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("dead-letter archive purged", "records", n)
	return n, nil
}
