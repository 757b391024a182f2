package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conceptrank/conceptrank/internal/scoring"
	"github.com/conceptrank/conceptrank/internal/searcher/merger"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	"github.com/conceptrank/conceptrank/internal/searcher/ranker"
	"github.com/conceptrank/conceptrank/pkg/config"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

type shardOutcome struct {
	docs    []ranker.ScoredDoc
	hits    int
	skipped int
	err     error
}

// ShardedExecutor collects and scores candidates on every shard in parallel.
// Scores are computed against stats, the corpus-wide provider, so a concept
// scores the same whichever shard holds it.
type ShardedExecutor struct {
	shards         []CandidateSource
	stats          scoring.TermStatisticsProvider
	registry       *scoring.Registry
	timeout        time.Duration
	maxConcurrency int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewSharded(shards []CandidateSource, stats scoring.TermStatisticsProvider, registry *scoring.Registry, cfg config.ScoringConfig, m *metrics.Metrics) *ShardedExecutor {
	return &ShardedExecutor{
		shards:         shards,
		stats:          stats,
		registry:       registry,
		timeout:        cfg.TimeoutPerShard,
		maxConcurrency: cfg.MaxConcurrentQueries,
		metrics:        m,
		logger:         slog.Default().With("component", "sharded-executor"),
	}
}

// Execute tolerates individual shard failures: the result reports them in
// ShardsFailed. It fails only when every shard fails, or when a shard
// rejects the request itself (unknown field).
func (se *ShardedExecutor) Execute(ctx context.Context, req *parser.ScoreRequest) (*Result, error) {
	start := time.Now()
	p, err := newPlan(se.registry, req)
	if err != nil {
		return nil, err
	}

	stats := newMemoStats(se.stats)
	outcomes := make([]shardOutcome, len(se.shards))
	var g errgroup.Group
	if se.maxConcurrency > 0 {
		g.SetLimit(se.maxConcurrency)
	}
	for i, src := range se.shards {
		g.Go(func() error {
			var out shardOutcome
			err := resilience.WithTimeout(ctx, se.timeout, fmt.Sprintf("shard-%d", i), func(ctx context.Context) error {
				ids, err := collectCandidates(ctx, src, p.query)
				if err != nil {
					return err
				}
				docs, skipped, err := p.scoreAll(ctx, ids, stats, se.metrics)
				if err != nil {
					return err
				}
				out = shardOutcome{docs: ranker.Rank(docs, req.Limit), hits: len(ids), skipped: skipped}
				return nil
			})
			if err != nil {
				outcomes[i] = shardOutcome{err: err}
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Script: req.Script, ShardsQueried: len(se.shards)}
	lists := make([][]ranker.ScoredDoc, 0, len(outcomes))
	var firstErr error
	for i, o := range outcomes {
		if o.err != nil {
			if errors.Is(o.err, apperrors.ErrUnknownField) {
				return nil, o.err
			}
			se.logger.Error("shard scoring failed", "shard", i, "error", o.err)
			result.ShardsFailed++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		result.TotalHits += o.hits
		result.Skipped += o.skipped
		lists = append(lists, o.docs)
	}
	if len(se.shards) > 0 && result.ShardsFailed == len(se.shards) {
		return nil, fmt.Errorf("%w: all %d shards failed: %w", apperrors.ErrShardUnavailable, len(se.shards), firstErr)
	}

	p.observe(se.metrics, result.TotalHits)
	result.Hits = merger.Merge(lists, req.Limit)
	result.TookMs = time.Since(start).Milliseconds()
	if result.Skipped > 0 {
		se.logger.Warn("documents skipped after scoring errors", "script", req.Script, "skipped", result.Skipped)
	}
	se.logger.Debug("score request executed",
		"script", req.Script,
		"shards_queried", result.ShardsQueried,
		"shards_failed", result.ShardsFailed,
		"candidates", result.TotalHits,
		"returned", len(result.Hits),
	)
	return result, nil
}
