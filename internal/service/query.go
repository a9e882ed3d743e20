package service

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// BroadcastView is a broadcast joined with its live delivery counters, the
// shape the admin API returns.
type BroadcastView struct {
	*model.Broadcast
	Statistics *model.BroadcastStatistics `json:"statistics"`
}

// Querier is the read side of the admin API.
type Querier interface {
	Broadcast(ctx context.Context, id uuid.UUID) (*BroadcastView, error)
	Broadcasts(ctx context.Context, filter string, limit, offset int) ([]*model.Broadcast, error)
	Deliveries(ctx context.Context, broadcastID uuid.UUID, limit, offset int) ([]*model.UserBroadcast, error)
	Statistics(ctx context.Context, broadcastID uuid.UUID) (*model.BroadcastStatistics, error)
	Quarantine(ctx context.Context, limit, offset int) ([]*model.QuarantinedEvent, error)
	OutboxDepth(ctx context.Context) (int64, error)
}

type QueryService struct {
	store *postgres.Store
}

func NewQueryService(store *postgres.Store) *QueryService {
	return &QueryService{store: store}
}

func (s *QueryService) Broadcast(ctx context.Context, id uuid.UUID) (*BroadcastView, error) {
	var view BroadcastView
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.store.GetBroadcast(gCtx, id)
		view.Broadcast = b
		return err
	})
	g.Go(func() error {
		stats, err := s.store.GetStatistics(gCtx, id)
		view.Statistics = stats
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *QueryService) Broadcasts(ctx context.Context, filter string, limit, offset int) ([]*model.Broadcast, error) {
	return s.store.ListBroadcasts(ctx, filter, limit, offset)
}

func (s *QueryService) Deliveries(ctx context.Context, broadcastID uuid.UUID, limit, offset int) ([]*model.UserBroadcast, error) {
	return s.store.ListDeliveries(ctx, broadcastID, limit, offset)
}

func (s *QueryService) Statistics(ctx context.Context, broadcastID uuid.UUID) (*model.BroadcastStatistics, error) {
	return s.store.GetStatistics(ctx, broadcastID)
}

func (s *QueryService) Quarantine(ctx context.Context, limit, offset int) ([]*model.QuarantinedEvent, error) {
	return s.store.ListQuarantine(ctx, limit, offset)
}

func (s *QueryService) OutboxDepth(ctx context.Context) (int64, error) {
	return s.store.CountOutbox(ctx)
}
