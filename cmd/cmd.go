// Package cmd wires the two services and the migration runner behind one
// binary: `admin` manages broadcasts and runs the control loops, `user`
// serves SSE streams, `migrate` applies the schema.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

const ServiceName = "broadcast-delivery-service"

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Horizontally scalable broadcast messaging backend",
		Commands: []*cli.Command{
			adminCmd(),
			userCmd(),
			migrateCmd(),
		},
	}
	return app.Run(os.Args)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config_file",
		Usage:   "Path to the configuration file",
		EnvVars: []string{"BDS_CONFIG_FILE"},
	}
}

func adminCmd() *cli.Command {
	return &cli.Command{
		Name:    "admin",
		Aliases: []string{"a"},
		Usage:   "Run the admin service: management API, outbox poller, schedulers and the orchestration consumer",
		Flags:   []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}
			return runApp(c.Context, NewAdminApp(cfg))
		},
	}
}

func userCmd() *cli.Command {
	return &cli.Command{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Run the user service: SSE streams and the delivery worker",
		Flags:   []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}
			return runApp(c.Context, NewUserApp(cfg))
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}
			pool, err := postgres.Connect(c.Context, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.Migrate(c.Context, pool); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

type lifecycleApp interface {
	Start(context.Context) error
	Stop(context.Context) error
}

func runApp(ctx context.Context, app lifecycleApp) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down...")
	return app.Stop(context.Background())
}
