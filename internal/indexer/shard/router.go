// Package shard partitions concepts across independent indexer.Engine
// instances. Each shard owns its own data directory; the Router assigns
// documents to shards by hashing their IDs and aggregates term statistics
// across all shards.
package shard

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/conceptrank/conceptrank/internal/indexer"
	"github.com/conceptrank/conceptrank/pkg/config"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// ShardFor returns the shard that owns docID. The mapping is stable for a
// fixed shard count, so the indexer and searcher agree on placement.
func ShardFor(docID string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % uint32(numShards))
}

// Router owns one engine per shard. The set of engines is fixed at
// construction.
type Router struct {
	engines []*indexer.Engine
	logger  *slog.Logger
}

// NewRouter opens cfg.NumShards engines in parallel, shard i under
// cfg.DataDir/shard-i. If any shard fails to open, the others are closed.
func NewRouter(cfg config.IndexerConfig) (*Router, error) {
	if cfg.NumShards < 1 {
		return nil, fmt.Errorf("numShards must be >= 1, got %d", cfg.NumShards)
	}
	r := &Router{
		engines: make([]*indexer.Engine, cfg.NumShards),
		logger:  slog.Default().With("component", "shard-router"),
	}
	var g errgroup.Group
	for i := range r.engines {
		g.Go(func() error {
			shardCfg := cfg
			shardCfg.DataDir = filepath.Join(cfg.DataDir, fmt.Sprintf("shard-%d", i))
			engine, err := indexer.NewEngine(shardCfg)
			if err != nil {
				return fmt.Errorf("opening shard %d: %w", i, err)
			}
			r.engines[i] = engine
			r.logger.Info("shard opened", "shard_id", i, "data_dir", shardCfg.DataDir, "docs", engine.TotalDocs())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.Close()
		return nil, err
	}
	r.logger.Info("shard router ready", "num_shards", cfg.NumShards, "docs", r.TotalDocs())
	return r, nil
}

// Route returns the engine for shardID.
func (r *Router) Route(shardID int) (*indexer.Engine, error) {
	if shardID < 0 || shardID >= len(r.engines) {
		return nil, fmt.Errorf("%w: shard %d (valid range: 0-%d)",
			apperrors.ErrShardUnavailable, shardID, len(r.engines)-1)
	}
	return r.engines[shardID], nil
}

// IndexDocument indexes doc in the shard that owns it and returns that
// shard's ID.
func (r *Router) IndexDocument(doc indexer.Document) (int, error) {
	shardID := ShardFor(doc.ID, len(r.engines))
	return shardID, r.engines[shardID].IndexDocument(doc)
}

// Engines returns the shard engines indexed by shard ID.
func (r *Router) Engines() []*indexer.Engine {
	return append([]*indexer.Engine(nil), r.engines...)
}

func (r *Router) NumShards() int {
	return len(r.engines)
}

func (r *Router) TotalDocs() int64 {
	var total int64
	for _, e := range r.engines {
		total += e.TotalDocs()
	}
	return total
}

// Statistics returns a provider whose counts are summed over every shard,
// so scores computed on any shard use collection-wide statistics.
func (r *Router) Statistics() *Statistics {
	return &Statistics{engines: r.Engines()}
}

// FlushAll flushes every shard concurrently and joins their errors.
func (r *Router) FlushAll() error {
	return r.each("flush", func(e *indexer.Engine) error { return e.Flush() })
}

// ReloadAll picks up newly flushed segments in every shard and returns how
// many were loaded in total, including from shards that later failed.
func (r *Router) ReloadAll() (int, error) {
	var loaded atomic.Int64
	err := r.each("reload", func(e *indexer.Engine) error {
		n, err := e.ReloadSegments()
		loaded.Add(int64(n))
		return err
	})
	return int(loaded.Load()), err
}

// Close flushes and closes every opened shard.
func (r *Router) Close() error {
	return r.each("close", func(e *indexer.Engine) error { return e.Close() })
}

// each runs fn on every opened engine concurrently. Unlike an errgroup's
// first error, every shard's failure is logged and returned.
func (r *Router) each(op string, fn func(*indexer.Engine) error) error {
	errs := make([]error, len(r.engines))
	var g errgroup.Group
	for id, engine := range r.engines {
		if engine == nil {
			continue
		}
		g.Go(func() error {
			if err := fn(engine); err != nil {
				r.logger.Error(op+" failed", "shard_id", id, "error", err)
				errs[id] = fmt.Errorf("shard %d: %w", id, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
