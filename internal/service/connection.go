package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
)

// ErrConnectionLimit rejects a connect attempt past the per-user cap. The
// handler turns it into a CONNECTION_LIMIT_REACHED frame, not an HTTP error.
var ErrConnectionLimit = apperr.New(apperr.KindRateLimited, "connection limit reached")

// casRetries bounds the optimistic-concurrency loop on the per-user
// connection map. Contention is per user, so a handful of retries covers
// realistic simultaneous connects.
const casRetries = 5

// Registrar owns the grid side of stream lifecycle: the per-user connection
// map and the heartbeat records the stale reaper scans.
type Registrar interface {
	Register(ctx context.Context, userID, connID uuid.UUID) error
	Touch(ctx context.Context, userID, connID uuid.UUID) error
	Unregister(ctx context.Context, userID, connID uuid.UUID) error
	Reap(ctx context.Context, connID uuid.UUID, hb model.Heartbeat) error
}

type ConnectionRegistry struct {
	grid    grid.Grid
	logger  *slog.Logger
	podID   string
	cluster string
	maxPer  int
}

func NewConnectionRegistry(g grid.Grid, logger *slog.Logger, cfg *config.Config) *ConnectionRegistry {
	return &ConnectionRegistry{
		grid:    g,
		logger:  logger.With("component", "connection_registry"),
		podID:   cfg.Pod.ID,
		cluster: cfg.Cluster.Name,
		maxPer:  cfg.SSE.MaxConnectionsPerUser,
	}
}

// Register admits a new stream under the per-user cap. The cap check and the
// insert happen under one compare-and-set, so two racing connects cannot both
// squeeze past the limit.
func (r *ConnectionRegistry) Register(ctx context.Context, userID, connID uuid.UUID) error {
	err := r.mutate(ctx, userID, func(set model.ConnectionSet) (model.ConnectionSet, error) {
		if len(set) >= r.maxPer {
			return nil, ErrConnectionLimit
		}
		now := time.Now().UTC()
		next := set.Clone()
		next[connID] = model.ConnectionInfo{
			PodID:          r.podID,
			ClusterID:      r.cluster,
			ConnectedAt:    now,
			LastActivityAt: now,
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	return r.grid.PutHeartbeat(ctx, connID, model.Heartbeat{
		UserID: userID,
		Epoch:  time.Now().Unix(),
	})
}

// Touch refreshes liveness on every server heartbeat tick. The connection map
// update is best effort; the heartbeat record is what the reaper trusts.
func (r *ConnectionRegistry) Touch(ctx context.Context, userID, connID uuid.UUID) error {
	if err := r.grid.PutHeartbeat(ctx, connID, model.Heartbeat{
		UserID: userID,
		Epoch:  time.Now().Unix(),
	}); err != nil {
		return err
	}
	err := r.mutate(ctx, userID, func(set model.ConnectionSet) (model.ConnectionSet, error) {
		info, ok := set[connID]
		if !ok {
			return nil, apperr.Newf(apperr.KindNotFound, "connection %s not registered", connID)
		}
		info.LastActivityAt = time.Now().UTC()
		next := set.Clone()
		next[connID] = info
		return next, nil
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		r.logger.Debug("activity refresh lost race", "user_id", userID, "conn_id", connID, "err", err)
	}
	return nil
}

// Unregister removes one stream on clean disconnect.
func (r *ConnectionRegistry) Unregister(ctx context.Context, userID, connID uuid.UUID) error {
	err := r.mutate(ctx, userID, func(set model.ConnectionSet) (model.ConnectionSet, error) {
		if _, ok := set[connID]; !ok {
			return set, nil
		}
		next := set.Clone()
		delete(next, connID)
		return next, nil
	})
	if err != nil {
		return err
	}
	return r.grid.DeleteHeartbeat(ctx, connID)
}

// Reap is the crash-cleanup path, called only by the stale reaper for
// heartbeats past the staleness threshold.
func (r *ConnectionRegistry) Reap(ctx context.Context, connID uuid.UUID, hb model.Heartbeat) error {
	if err := r.Unregister(ctx, hb.UserID, connID); err != nil {
		return err
	}
	r.logger.Warn("stale connection reaped", "user_id", hb.UserID, "conn_id", connID, "epoch", hb.Epoch)
	return nil
}

// mutate runs fn against a fresh snapshot of the user's connection map and
// writes the result back under CAS, retrying on interference.
func (r *ConnectionRegistry) mutate(ctx context.Context, userID uuid.UUID, fn func(model.ConnectionSet) (model.ConnectionSet, error)) error {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		set, version, err := r.grid.GetConnections(ctx, userID)
		if err != nil {
			return err
		}
		next, err := fn(set)
		if err != nil {
			return err
		}
		if err := r.grid.PutConnections(ctx, userID, next, version); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
