// Package main starts the governor daemon: it evaluates ACTIVE loops and
// starts iterations when the preconditions hold, publishing its event stream
// through the shared outbox.
package main

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/governor"
	"github.com/solver-ralph/sr/natsbus"
	"github.com/solver-ralph/sr/postgres"
	"github.com/solver-ralph/sr/secrets"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sr-governor exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg sr.GovernorConfig
	if err := sr.LoadConfig(&cfg); err != nil {
		return err
	}
	sr.ConfigureLogging(cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InfisicalAddr != "" {
		vault := secrets.NewClient(secrets.Config{
			BaseURL:     cfg.InfisicalAddr,
			Token:       cfg.InfisicalToken,
			WorkspaceID: cfg.InfisicalWorkspace,
			Environment: cfg.InfisicalEnv,
		})
		url, err := vault.GetSecret(ctx, "/sr", "DATABASE_URL")
		if err != nil {
			return err
		}
		cfg.DatabaseURL = url
	}

	conn, err := postgres.OpenConnection(ctx, postgres.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer postgres.CloseConnection()

	store := postgres.NewEventStore(conn)
	projections := postgres.NewProjectionStore(conn)

	bus, err := natsbus.Connect(natsbus.Config{URL: cfg.NatsURL, Name: "sr-governor"})
	if err != nil {
		return err
	}
	publisher := postgres.NewPublisher(conn, bus)

	g := governor.New(store, projections, sr.SystemClock{}, cfg.IterationGap, cfg.DryRun)
	daemon := governor.NewDaemon(g, cfg.PollInterval, func(ctx context.Context) error {
		_, err := projections.ProcessEvents(ctx, store, 200)
		return err
	})

	log.Info("sr-governor starting",
		"poll_interval", cfg.PollInterval.String(),
		"dry_run", cfg.DryRun)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return daemon.Run(egCtx) })
	eg.Go(func() error { return daemon.ServeHealth(egCtx, cfg.HealthPort) })
	eg.Go(func() error {
		publisher.Run(egCtx, 500*time.Millisecond)
		return egCtx.Err()
	})
	return eg.Wait()
}
