// Package main starts the oracle execution worker. It queue-subscribes to run
// commands on NATS, executes the pinned suite, stores the gate packet in
// MinIO, and records the outcome in the event log. Redis backs command
// deduplication so a redelivered command runs at most once.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/minio"
	"github.com/solver-ralph/sr/natsbus"
	"github.com/solver-ralph/sr/oracles"
	"github.com/solver-ralph/sr/postgres"
	"github.com/solver-ralph/sr/rediscache"
)

// registrySource resolves suite definitions from the persistent registry.
type registrySource struct {
	registry sr.SuiteRegistry
}

func (s registrySource) GetSuite(ctx context.Context, suiteID string) (*oracles.SuiteDefinition, error) {
	record, err := s.registry.Get(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	var definition oracles.SuiteDefinition
	if err := json.Unmarshal(record.Definition, &definition); err != nil {
		return nil, fmt.Errorf("decode suite %s definition, details: %v", suiteID, err)
	}
	return &definition, nil
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sr-oracle-worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg sr.WorkerConfig
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
	registry := postgres.NewSuiteRegistry(conn)

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

	if _, err := rediscache.OpenConnection(rediscache.Options{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
	}); err != nil {
		return err
	}
	defer rediscache.CloseConnection()
	deduper := natsbus.NewDeduper(rediscache.NewClient(), cfg.DedupeTTL)

	// Commands are queue-subscribed so a subject is load balanced across
	// worker replicas instead of fanned out to all of them.
	bus, err := natsbus.Connect(natsbus.Config{
		URL:        cfg.NatsURL,
		Name:       "sr-oracle-worker",
		QueueGroup: "oracle-workers",
	})
	if err != nil {
		return err
	}

	runner := oracles.NewRunner(evidenceStore, oracles.DefaultFlakePolicy(), cfg.WorkDir)
	runner.SetDefaultTimeout(cfg.RunTimeout)
	worker := oracles.NewWorker(bus, store, runner, registrySource{registry: registry}, deduper, cfg.MaxConcurrent)

	log.Info("sr-oracle-worker starting",
		"max_concurrent", cfg.MaxConcurrent,
		"work_dir", cfg.WorkDir)
	return worker.Run(ctx)
}
