package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/webitel/broadcast-delivery-service/config"
)

var Module = fx.Module("postgres",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
			pool, err := Connect(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					pool.Close()
					return nil
				},
			})
			return pool, nil
		},
		NewStore,
	),
)
