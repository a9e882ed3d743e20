// Package service holds the application services: broadcast lifecycle,
// audience targeting, connection registry operations, DLT administration and
// the read-side queries. Transport handlers and background loops depend on
// the interfaces declared here, never on the concrete types.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// ContentProvider serves broadcast content to the hot delivery path.
type ContentProvider interface {
	// Content resolves a broadcast by id, cheapest tier first.
	Content(ctx context.Context, id uuid.UUID) (*model.Broadcast, error)
	// Prime pushes fresh content into every tier after a write.
	Prime(ctx context.Context, b *model.Broadcast)
	// Invalidate drops a broadcast from the local and grid tiers.
	Invalidate(ctx context.Context, id uuid.UUID)
}

// ContentCache is the three-tier read path for broadcast content:
// process-local LRU, then the grid, then the durable store. Consumers hit it
// once per delivery event, so a warm entry turns fan-out into pure memory
// reads.
type ContentCache struct {
	local         *lru.Cache[uuid.UUID, *model.Broadcast]
	grid          grid.Grid
	store         *postgres.Store
	logger        *slog.Logger
	lookupTimeout time.Duration
}

func NewContentCache(g grid.Grid, store *postgres.Store, logger *slog.Logger, cfg *config.Config) *ContentCache {
	local, _ := lru.New[uuid.UUID, *model.Broadcast](cfg.Grid.LocalCacheSize)
	return &ContentCache{
		local:         local,
		grid:          g,
		store:         store,
		logger:        logger.With("component", "content_cache"),
		lookupTimeout: cfg.Grid.LookupTimeout,
	}
}

// gridCtx bounds one grid round trip so a degraded grid stalls delivery by at
// most the configured lookup timeout before the store fallback kicks in.
func (c *ContentCache) gridCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.lookupTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.lookupTimeout)
}

func (c *ContentCache) Content(ctx context.Context, id uuid.UUID) (*model.Broadcast, error) {
	if b, ok := c.local.Get(id); ok {
		return b, nil
	}

	gctx, cancel := c.gridCtx(ctx)
	b, ok, err := c.grid.GetContent(gctx, id)
	cancel()
	if err != nil {
		// Grid trouble degrades to a store read instead of failing delivery.
		c.logger.Warn("grid content lookup failed", "broadcast_id", id, "err", err)
	} else if ok {
		c.local.Add(id, b)
		return b, nil
	}

	b, err = c.store.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	c.local.Add(id, b)
	gctx, cancel = c.gridCtx(ctx)
	defer cancel()
	if err := c.grid.PutContent(gctx, b); err != nil {
		c.logger.Warn("grid content backfill failed", "broadcast_id", id, "err", err)
	}
	return b, nil
}

func (c *ContentCache) Prime(ctx context.Context, b *model.Broadcast) {
	c.local.Add(b.ID, b)
	if err := c.grid.PutContent(ctx, b); err != nil {
		c.logger.Warn("grid content prime failed", "broadcast_id", b.ID, "err", err)
	}
}

func (c *ContentCache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.local.Remove(id)
	if err := c.grid.DeleteContent(ctx, id); err != nil {
		c.logger.Warn("grid content invalidation failed", "broadcast_id", id, "err", err)
	}
}
