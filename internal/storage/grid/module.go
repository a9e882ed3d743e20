package grid

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/webitel/broadcast-delivery-service/config"
)

var Module = fx.Module("grid",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config) (Grid, error) {
			var backend Grid
			switch cfg.Grid.Backend {
			case "redis":
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				if err := rdb.Ping(context.Background()).Err(); err != nil {
					return nil, fmt.Errorf("ping redis: %w", err)
				}
				backend = NewRedisGrid(rdb, RedisOptions{
					Cluster:    cfg.Cluster.Name,
					ContentTTL: cfg.Grid.ContentTTL,
					PendingTTL: cfg.Grid.PendingTTL,
				})
			case "memory":
				backend = NewMemoryGrid(cfg.Grid.PendingTTL)
			default:
				return nil, fmt.Errorf("unknown grid backend %q", cfg.Grid.Backend)
			}

			g := NewBreakerGrid(backend)
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return g.Close() },
			})
			return g, nil
		},
	),
)
