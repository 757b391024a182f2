// Command importer loads concepts from a UMLS MRCONSO.RRF file into the
// concept catalogue and publishes them to Kafka for the indexer.
//
// Usage:
//
//	go run ./cmd/importer [-config configs/development.yaml] [-file MRCONSO.RRF] [-limit 1000]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/conceptrank/conceptrank/internal/ingestion/importer"
	"github.com/conceptrank/conceptrank/internal/ingestion/publisher"
	"github.com/conceptrank/conceptrank/internal/ingestion/rrf"
	"github.com/conceptrank/conceptrank/internal/ingestion/store"
	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/logger"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	file := flag.String("file", "", "MRCONSO.RRF path (overrides importer.mrconsoPath)")
	limit := flag.Int("limit", -1, "stop after this many concepts, 0 for no limit (overrides importer.limit)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *file != "" {
		cfg.Importer.MrconsoPath = *file
	}
	if *limit >= 0 {
		cfg.Importer.Limit = *limit
	}
	if cfg.Importer.MrconsoPath == "" {
		fmt.Fprintln(os.Stderr, "no MRCONSO file given: set importer.mrconsoPath or -file")
		os.Exit(2)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting concept import",
		"file", cfg.Importer.MrconsoPath,
		"language", cfg.Importer.Language,
		"limit", cfg.Importer.Limit,
		"batch_size", cfg.Importer.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var conceptStore publisher.ConceptStore
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
		slog.Info("concept catalogue ready")
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ConceptIngest)
	defer producer.Close()

	input, err := rrf.Open(cfg.Importer.MrconsoPath)
	if err != nil {
		slog.Error("failed to open MRCONSO file", "error", err)
		os.Exit(1)
	}
	defer input.Close()

	reader := rrf.NewReader(input,
		rrf.WithLimit(cfg.Importer.Limit),
		rrf.WithLanguage(cfg.Importer.Language),
	)
	pub := publisher.New(conceptStore, producer, cfg.Indexer.NumShards)
	stats, err := importer.New(pub, cfg.Importer.BatchSize, m).Run(ctx, reader)
	if err != nil {
		slog.Error("import failed",
			"error", err,
			"published", stats.Published,
			"lines", reader.Line(),
		)
		os.Exit(1)
	}
	slog.Info("import finished",
		"read", stats.Read,
		"published", stats.Published,
		"invalid", stats.Invalid,
		"skipped_language", reader.Skipped(),
		"duration", stats.Duration,
	)
}
