// Command indexer consumes concept events from Kafka and writes them into
// the sharded on-disk index read by the searcher.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conceptrank/conceptrank/internal/analytics/collector"
	"github.com/conceptrank/conceptrank/internal/indexer/consumer"
	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/ingestion/store"
	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/logger"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

// run indexes concept events until ctx ends, then flushes every shard.
func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting indexer service", "num_shards", cfg.Indexer.NumShards)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	router, err := shard.NewRouter(cfg.Indexer)
	if err != nil {
		return fmt.Errorf("opening shards: %w", err)
	}
	defer router.Close()
	m.ActiveShards.Set(float64(router.NumShards()))
	for _, engine := range router.Engines() {
		engine.StartFlushLoop(ctx)
	}

	status, closeStatus, err := openStatusStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStatus()

	var events consumer.EventTracker
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ScoreEvents)
		defer producer.Close()
		batches := collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batches.Start(ctx)
		defer batches.Close()
		events = batches
	}

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.ConceptIngest,
		consumer.HandleMessage(router, status, m, events),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("consuming concept events",
			"topic", cfg.Kafka.Topics.ConceptIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
		return indexConsumer.Start(ctx)
	})
	g.Go(func() error {
		reportShardSizes(ctx, router, m, 15*time.Second)
		return nil
	})
	runErr := g.Wait()

	slog.Info("flushing all shards before shutdown")
	if err := router.FlushAll(); err != nil {
		m.IndexFlushesTotal.WithLabelValues("error").Inc()
		return errors.Join(runErr, fmt.Errorf("final flush: %w", err))
	}
	m.IndexFlushesTotal.WithLabelValues("ok").Inc()
	return runErr
}

// openStatusStore returns the concept catalogue used to record indexing
// status, or nil when postgres is not configured or unreachable.
func openStatusStore(ctx context.Context, cfg *config.Config) (consumer.StatusUpdater, func(), error) {
	noop := func() {}
	if cfg.Postgres.Host == "" {
		return nil, noop, nil
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, concept status tracking disabled", "error", err)
		return nil, noop, nil
	}
	conceptStore := store.New(db)
	if err := conceptStore.Migrate(ctx); err != nil {
		db.Close()
		return nil, noop, fmt.Errorf("migrating concept catalogue: %w", err)
	}
	return conceptStore, func() { db.Close() }, nil
}

// reportShardSizes keeps the per-shard document gauges current.
func reportShardSizes(ctx context.Context, router *shard.Router, m *metrics.Metrics, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		for id, engine := range router.Engines() {
			m.ShardDocCount.WithLabelValues(fmt.Sprint(id)).Set(float64(engine.TotalDocs()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
