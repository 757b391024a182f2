// Package handler exposes the scoring service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/internal/scoring"
	"github.com/conceptrank/conceptrank/internal/searcher/cache"
	"github.com/conceptrank/conceptrank/internal/searcher/executor"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
	"github.com/conceptrank/conceptrank/pkg/logger"
	"github.com/conceptrank/conceptrank/pkg/metrics"
	"github.com/conceptrank/conceptrank/pkg/middleware"
)

const maxBodyBytes = 1 << 20

type ScoreExecutor interface {
	Execute(ctx context.Context, req *parser.ScoreRequest) (*executor.Result, error)
}

// Reloader picks up segments flushed by the indexer since the last reload.
type Reloader interface {
	ReloadAll() (int, error)
}

// EventTracker receives one event per served score request.
type EventTracker interface {
	Track(event analytics.Event)
}

// Handler serves score requests and index statistics. The cache, event
// tracker and metrics are optional.
type Handler struct {
	executor ScoreExecutor
	cache    *cache.ScoreCache
	stats    scoring.TermStatisticsProvider
	events   EventTracker
	opts     parser.Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(
	exec ScoreExecutor,
	scoreCache *cache.ScoreCache,
	stats scoring.TermStatisticsProvider,
	events EventTracker,
	opts parser.Options,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		executor: exec,
		cache:    scoreCache,
		stats:    stats,
		events:   events,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default().With("component", "score-handler"),
	}
}

// Score serves POST /api/v1/score.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := parser.Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes), h.opts)
	if err != nil {
		h.countOutcome("error")
		h.writeError(w, err)
		return
	}

	var result *executor.Result
	cacheHit := false
	cacheStatus := "disabled"
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, req, func(ctx context.Context) (*executor.Result, error) {
			return h.executor.Execute(ctx, req)
		})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.executor.Execute(ctx, req)
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("score request failed", "script", req.Script, "error", err, "status_code", status)
		} else {
			log.Info("score request rejected", "script", req.Script, "error", err, "status_code", status)
		}
		h.countOutcome("error")
		h.writeError(w, err)
		return
	}

	elapsed := time.Since(start)
	switch {
	case cacheHit:
		h.countOutcome("cache_hit")
	case len(result.Hits) == 0:
		h.countOutcome("empty")
	default:
		h.countOutcome("ok")
	}
	if h.metrics != nil {
		h.metrics.ScoreLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	}

	log.Info("score request completed",
		"script", req.Script,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"skipped", result.Skipped,
		"shards_failed", result.ShardsFailed,
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.track(ctx, req, result, cacheHit, elapsed)
	h.writeJSON(w, http.StatusOK, result)
}

// FieldStats serves GET /api/v1/stats/{field}. With a term query parameter
// the term's document frequency is included.
func (h *Handler) FieldStats(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	count, err := h.stats.DocumentCount(field)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := map[string]any{"field": field, "doc_count": count}
	if term := r.URL.Query().Get("term"); term != "" {
		df, err := h.stats.DocumentFrequency(field, term)
		if err != nil {
			h.writeError(w, err)
			return
		}
		body["term"] = term
		body["doc_freq"] = df
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// Reload returns the handler for POST /api/v1/index/reload.
func (h *Handler) Reload(reloader Reloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loaded, invalidated, err := h.reload(r.Context(), reloader)
		if err != nil {
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":           "segment reload failed",
				"segments_loaded": loaded,
			})
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"segments_loaded":    loaded,
			"cache_keys_deleted": invalidated,
		})
	}
}

// RunReloadLoop reloads segments every interval until ctx ends, clearing
// the score cache like the reload endpoint does.
func (h *Handler) RunReloadLoop(ctx context.Context, reloader Reloader, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reload(ctx, reloader)
		}
	}
}

// reload picks up new segments. When any were loaded the corpus counts have
// changed, so every cached score is dropped.
func (h *Handler) reload(ctx context.Context, reloader Reloader) (loaded int, invalidated int64, err error) {
	loaded, err = reloader.ReloadAll()
	if err != nil {
		h.logger.Error("segment reload failed", "loaded", loaded, "error", err)
		return loaded, 0, err
	}
	if loaded == 0 {
		return 0, 0, nil
	}
	if h.cache != nil {
		if invalidated, err = h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	h.logger.Info("segments reloaded", "loaded", loaded, "cache_keys_deleted", invalidated)
	return loaded, invalidated, nil
}

func (h *Handler) track(ctx context.Context, req *parser.ScoreRequest, result *executor.Result, cacheHit bool, elapsed time.Duration) {
	if h.events == nil {
		return
	}
	h.events.Track(analytics.ScoreEvent{
		Type:         analytics.EventScore,
		Script:       req.Script,
		Query:        req.Query,
		NgramTerms:   termCount(req.Params[scoring.ParamNgrams]),
		TextTerms:    termCount(req.Params[scoring.ParamText]),
		TotalHits:    result.TotalHits,
		Returned:     len(result.Hits),
		Skipped:      result.Skipped,
		ShardsFailed: result.ShardsFailed,
		LatencyMs:    elapsed.Milliseconds(),
		CacheHit:     cacheHit,
		Timestamp:    time.Now().UTC(),
		RequestID:    middleware.GetRequestID(ctx),
	})
}

func termCount(v any) int {
	switch list := v.(type) {
	case []any:
		return len(list)
	case []string:
		return len(list)
	}
	return 0
}

func (h *Handler) countOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.ScoreRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": apperrors.ClientMessage(err)})
}
