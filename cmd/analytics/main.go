// Command analytics aggregates score and index events from Kafka and serves
// the running totals at GET /api/v1/analytics. With postgres configured it
// also persists periodic snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/internal/analytics/aggregator"
	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/health"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/logger"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/middleware"
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
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

// run serves until ctx ends or the consumer or server fails.
func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	agg := analytics.NewAggregator()
	checker := health.NewChecker()
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}, false))

	g, ctx := errgroup.WithContext(ctx)

	store, closeStore, err := openSnapshots(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer closeStore()
	var snapshots analytics.SnapshotLister
	if store != nil {
		snapshots = store
		g.Go(func() error {
			store.RunPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
			return nil
		})
	}

	kafkaCfg := cfg.Kafka
	kafkaCfg.ConsumerGroup = cfg.Analytics.ConsumerGroup
	consumer := kafka.NewConsumer(kafkaCfg, cfg.Kafka.Topics.ScoreEvents, analytics.HandleEvent(agg))
	g.Go(func() error {
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("analytics consumer: %w", err)
		}
		return nil
	})

	h := analytics.NewHandler(agg, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(middleware.Metrics(m)(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr, "topic", cfg.Kafka.Topics.ScoreEvents)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openSnapshots opens the Postgres snapshot store when postgres is
// configured. An unreachable database disables snapshots; a failed
// migration is fatal.
func openSnapshots(ctx context.Context, cfg *config.Config, checker *health.Checker) (*aggregator.Store, func(), error) {
	noop := func() {}
	if cfg.Postgres.Host == "" {
		return nil, noop, nil
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		return nil, noop, nil
	}
	store := aggregator.NewStore(db, cfg.Analytics.SnapshotRetention)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, noop, fmt.Errorf("migrating analytics snapshots: %w", err)
	}
	if last, err := store.LatestSnapshot(ctx); err == nil && last != nil {
		slog.Info("previous snapshot found",
			"captured_at", last.CapturedAt,
			"total_scores", last.TotalScores,
		)
	}
	checker.Register("postgres", health.PingCheck(db.Ping, true))
	return store, func() { db.Close() }, nil
}
