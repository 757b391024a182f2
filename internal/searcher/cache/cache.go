// Package cache stores score results in Redis, keyed by a hash of the
// normalised request. Concurrent misses for the same key are collapsed into
// one execution and a circuit breaker stops calling Redis while it is down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conceptrank/conceptrank/internal/searcher/executor"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

const (
	keyPrefix = "score:"

	// defaultComputeTimeout bounds a shared computation once it no longer
	// follows any single caller's context.
	defaultComputeTimeout = 30 * time.Second
)

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type ScoreCache struct {
	store          Store
	ttl            time.Duration
	computeTimeout time.Duration
	breaker        *resilience.CircuitBreaker
	group          singleflight.Group
	metrics        *metrics.Metrics
	logger         *slog.Logger
	hits           atomic.Int64
	misses         atomic.Int64
}

// New returns a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *ScoreCache {
	c := &ScoreCache{
		store:          store,
		ttl:            ttl,
		computeTimeout: defaultComputeTimeout,
		metrics:        m,
		logger:         slog.Default().With("component", "score-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// WithComputeTimeout sets how long a collapsed computation may run. It
// returns c for chaining; non-positive values are ignored.
func (c *ScoreCache) WithComputeTimeout(d time.Duration) *ScoreCache {
	if d > 0 {
		c.computeTimeout = d
	}
	return c
}

// Key returns the cache key for req.
func Key(req *parser.ScoreRequest) (string, error) {
	hash, err := req.CacheKey()
	if err != nil {
		return "", err
	}
	return keyPrefix + hash, nil
}

// Get returns the cached result for key. Store errors and undecodable
// entries count as misses.
func (c *ScoreCache) Get(ctx context.Context, key string) (*executor.Result, bool) {
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	if !found {
		c.recordMiss()
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache entry undecodable", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *ScoreCache) Set(ctx context.Context, key string, result *executor.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or runs compute and caches
// its result. The boolean reports a cache hit. Results with failed shards
// are returned but not cached.
//
// Concurrent misses for one key share a single compute call. That call runs
// detached from every caller's cancellation, bounded by the compute timeout,
// and each caller stops waiting when its own ctx ends.
func (c *ScoreCache) GetOrCompute(
	ctx context.Context,
	req *parser.ScoreRequest,
	compute func(ctx context.Context) (*executor.Result, error),
) (*executor.Result, bool, error) {
	key, err := Key(req)
	if err != nil {
		return nil, false, err
	}
	if result, ok := c.Get(ctx, key); ok {
		result.Cached = true
		return result, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		result, err := compute(shared)
		if err != nil {
			return nil, err
		}
		if result.ShardsFailed == 0 {
			c.Set(shared, key, result)
		}
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		shared := *res.Val.(*executor.Result)
		return &shared, false, nil
	}
}

// Invalidate deletes every cached score result and returns how many keys
// were removed.
func (c *ScoreCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating score cache: %w", err)
	}
	c.logger.Info("score cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ScoreCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the Redis circuit breaker state.
func (c *ScoreCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *ScoreCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
