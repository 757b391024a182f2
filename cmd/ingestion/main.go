// Command ingestion accepts individual concepts over HTTP at
// POST /api/v1/concepts, records them in the concept catalogue and publishes
// them to Kafka for indexing.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/conceptrank/conceptrank/internal/ingestion/handler"
	"github.com/conceptrank/conceptrank/internal/ingestion/publisher"
	"github.com/conceptrank/conceptrank/internal/ingestion/store"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()

	var conceptStore publisher.ConceptStore
	var catalogue *store.Store
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		s := store.New(db)
		if err := s.Migrate(ctx); err != nil {
			slog.Error("failed to migrate concept catalogue", "error", err)
			os.Exit(1)
		}
		conceptStore = s
		catalogue = s
		checker.Register("postgres", health.PingCheck(db.Ping, false))
		slog.Info("connected to postgres")
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ConceptIngest)
	defer producer.Close()
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}, false))
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.ConceptIngest)

	h := handler.New(publisher.New(conceptStore, producer, cfg.Indexer.NumShards))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/concepts", h.Ingest)
	if catalogue != nil {
		mux.HandleFunc("GET /api/v1/concepts/status", statusCounts(catalogue))
	}
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}

// statusCounts reports how many catalogued concepts are pending, indexed
// or failed.
func statusCounts(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.CountByStatus(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			slog.Error("counting concepts failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
			return
		}
		json.NewEncoder(w).Encode(counts)
	}
}
