// Command searcher serves the concept scoring API over the sharded index
// written by the indexer.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/scoring"
	"github.com/conceptrank/conceptrank/internal/searcher/cache"
	"github.com/conceptrank/conceptrank/internal/searcher/executor"
	"github.com/conceptrank/conceptrank/internal/searcher/handler"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/health"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/logger"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/middleware"
	"github.com/conceptrank/conceptrank/pkg/ratelimit"
	pkgredis "github.com/conceptrank/conceptrank/pkg/redis"
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
	slog.Info("starting score service", "port", cfg.Server.Port, "num_shards", cfg.Indexer.NumShards)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	router, err := shard.NewRouter(cfg.Indexer)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		os.Exit(1)
	}
	defer router.Close()
	m.ActiveShards.Set(float64(router.NumShards()))
	slog.Info("shard router initialized",
		"data_dir", cfg.Indexer.DataDir,
		"docs", router.TotalDocs(),
	)

	var scoreCache *cache.ScoreCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, score caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			scoreCache = cache.New(redisClient, cfg.Redis.CacheTTL, m).WithComputeTimeout(cfg.Server.RequestTimeout)
			slog.Info("score cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var events handler.EventTracker
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ScoreEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, cfg.Analytics.BufferSize)
		collector.Start(ctx)
		defer collector.Close()
		events = collector
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if router.NumShards() == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no shards"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d shards, %d docs", router.NumShards(), router.TotalDocs()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, true))
	}
	if cfg.Analytics.Enabled {
		checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}, true))
	}

	sources := make([]executor.CandidateSource, 0, router.NumShards())
	for _, engine := range router.Engines() {
		sources = append(sources, engine)
	}
	exec := executor.NewSharded(sources, router.Statistics(), scoring.DefaultRegistry(), cfg.Scoring, m)
	h := handler.New(exec, scoreCache, router.Statistics(), events, parserOptions(cfg), m)
	go h.RunReloadLoop(ctx, router, cfg.Indexer.ReloadInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/score", h.Score)
	mux.HandleFunc("GET /api/v1/stats/{field}", h.FieldStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload(router))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Scoring.RateLimitPerMinute > 0 {
		limiter := ratelimit.New(cfg.Scoring.RateLimitPerMinute, time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter)(chain)
	}
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

	slog.Info("score service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("score service stopped")
}

// parserOptions derives request defaults from the scoring limits and the
// index schema: the first ngrams field and the first text field are the
// targets of query expansion.
func parserOptions(cfg *config.Config) parser.Options {
	opts := parser.Options{
		DefaultScript:    cfg.Scoring.Script,
		DefaultLimit:     cfg.Scoring.DefaultLimit,
		MaxResults:       cfg.Scoring.MaxResults,
		MaxTermsPerField: cfg.Scoring.MaxTermsPerField,
	}
	for _, f := range cfg.Indexer.Fields {
		switch {
		case f.Analyzer == "ngrams" && opts.NgramsField == "":
			opts.NgramsField = f.Name
			opts.NgramSize = f.NgramSize
		case f.Analyzer == "text" && opts.TextField == "":
			opts.TextField = f.Name
		}
	}
	return opts
}
