// Package main starts the REST API service: the command surface over the
// event log, the outbox publisher, and the projection sync loop.
package main

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/governor"
	"github.com/solver-ralph/sr/minio"
	"github.com/solver-ralph/sr/natsbus"
	"github.com/solver-ralph/sr/postgres"
	"github.com/solver-ralph/sr/rest_api"
)

func main() {
	if err := run(); err != nil {
		log.Error("sr-api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg sr.APIConfig
	if err := sr.LoadConfig(&cfg); err != nil {
		return err
	}
	sr.ConfigureLogging(cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := postgres.OpenConnection(ctx, postgres.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer postgres.CloseConnection()

	store := postgres.NewEventStore(conn)
	projections := postgres.NewProjectionStore(conn)
	suites := postgres.NewSuiteRegistry(conn)

	s3Client := minio.Connect(minio.Config{
		HostEndpointUrl: cfg.MinioEndpoint,
		Region:          "us-east-1",
		Username:        cfg.MinioAccess,
		Password:        cfg.MinioSecret,
		Bucket:          cfg.MinioBucket,
	})
	if err := minio.EnsureBucket(ctx, s3Client, cfg.MinioBucket, "us-east-1"); err != nil {
		return err
	}
	evidenceStore, err := minio.NewEvidenceStore(s3Client, cfg.MinioBucket)
	if err != nil {
		return err
	}

	bus, err := natsbus.Connect(natsbus.Config{URL: cfg.NatsURL, Name: "sr-api"})
	if err != nil {
		return err
	}

	// The publisher drains the outbox written by command handlers; the sync
	// loop keeps the proj schema trailing the log.
	publisher := postgres.NewPublisher(conn, bus)
	go publisher.Run(ctx, 500*time.Millisecond)
	go syncProjections(ctx, projections, store)

	var provider sr.IdentityProvider
	if cfg.AuthDisabled {
		log.Warn("token validation is DISABLED")
		provider = rest_api.InsecureProvider{}
	} else {
		provider = rest_api.NewOIDCProvider(rest_api.OIDCConfig{
			Issuer:   cfg.OIDCIssuer,
			Audience: cfg.OIDCAudience,
		})
	}

	api := &rest_api.API{
		Store:    store,
		Reads:    projections,
		Evidence: evidenceStore,
		Suites:   suites,
		Bus:      bus,
		Governor: governor.New(store, projections, sr.SystemClock{}, 0, false),
		Clock:    sr.SystemClock{},
	}
	server := &http.Server{
		Addr:    cfg.ListenAddress(),
		Handler: rest_api.NewRouter(api, provider),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("sr-api listening", "address", cfg.ListenAddress())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func syncProjections(ctx context.Context, projections *postgres.ProjectionStore, store *postgres.EventStore) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := projections.ProcessEvents(ctx, store, 200); err != nil {
				log.Warn("projection sync failed", "error", err)
			}
		}
	}
}
