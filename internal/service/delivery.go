package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/outbox"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// Deliverer records per-user delivery progress.
type Deliverer interface {
	// MarkDelivered confirms a frame reached the user. Returns false when the
	// row already moved past PENDING.
	MarkDelivered(ctx context.Context, broadcastID, userID uuid.UUID) (bool, error)
	// MarkRead acknowledges a read from the client and emits one READ event
	// so every other stream of the user mirrors the receipt.
	MarkRead(ctx context.Context, broadcastID, userID uuid.UUID) error
	// MarkFailed records a terminal per-user delivery failure.
	MarkFailed(ctx context.Context, broadcastID, userID uuid.UUID) error
}

type DeliveryService struct {
	store     *postgres.Store
	publisher *outbox.Publisher
	logger    *slog.Logger
}

func NewDeliveryService(store *postgres.Store, publisher *outbox.Publisher, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "delivery"),
	}
}

func (s *DeliveryService) MarkDelivered(ctx context.Context, broadcastID, userID uuid.UUID) (bool, error) {
	return s.store.MarkDelivered(ctx, broadcastID, userID)
}

func (s *DeliveryService) MarkRead(ctx context.Context, broadcastID, userID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		updated, err := s.store.MarkRead(ctx, tx, broadcastID, userID)
		if err != nil {
			return err
		}
		if !updated {
			// Reads are monotonic; a repeat is acknowledged silently.
			return nil
		}
		if err := s.store.IncrStatistics(ctx, tx, broadcastID, postgres.StatRead, 1); err != nil {
			return err
		}
		return s.publisher.Emit(ctx, tx, model.NewDeliveryEvent(broadcastID, userID, model.EventRead))
	})
}

func (s *DeliveryService) MarkFailed(ctx context.Context, broadcastID, userID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.MarkFailed(ctx, tx, broadcastID, userID)
	})
}
