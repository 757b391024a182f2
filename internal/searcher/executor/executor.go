// Package executor runs score requests: it builds the requested script,
// collects candidate concepts from the index and invokes the scorer once per
// candidate.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conceptrank/conceptrank/internal/scoring"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	"github.com/conceptrank/conceptrank/internal/searcher/ranker"
	"github.com/conceptrank/conceptrank/pkg/metrics"
)

// ctxCheckEvery is how many candidates are scored between context checks.
const ctxCheckEvery = 1024

// CandidateSource is an index that can answer statistics and list the
// documents containing any of a set of terms. *indexer.Engine satisfies it.
type CandidateSource interface {
	scoring.TermStatisticsProvider
	Candidates(field string, terms []string) (map[string]struct{}, error)
}

// Result is the response body of a score request.
type Result struct {
	Script        string             `json:"script"`
	TotalHits     int                `json:"total_hits"`
	Skipped       int                `json:"skipped"`
	Hits          []ranker.ScoredDoc `json:"hits"`
	ShardsQueried int                `json:"shards_queried"`
	ShardsFailed  int                `json:"shards_failed"`
	TookMs        int64              `json:"took_ms"`
	Cached        bool               `json:"cached"`
}

// Executor scores requests against a single index.
type Executor struct {
	source   CandidateSource
	registry *scoring.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns an executor over source. m may be nil.
func New(source CandidateSource, registry *scoring.Registry, m *metrics.Metrics) *Executor {
	return &Executor{
		source:   source,
		registry: registry,
		metrics:  m,
		logger:   slog.Default().With("component", "score-executor"),
	}
}

func (e *Executor) Execute(ctx context.Context, req *parser.ScoreRequest) (*Result, error) {
	start := time.Now()
	p, err := newPlan(e.registry, req)
	if err != nil {
		return nil, err
	}
	ids, err := collectCandidates(ctx, e.source, p.query)
	if err != nil {
		return nil, err
	}
	docs, skipped, err := p.scoreAll(ctx, ids, newMemoStats(e.source), e.metrics)
	if err != nil {
		return nil, err
	}
	p.observe(e.metrics, len(ids))
	if skipped > 0 {
		e.logger.Warn("documents skipped after scoring errors", "script", req.Script, "skipped", skipped)
	}
	return &Result{
		Script:        req.Script,
		TotalHits:     len(ids),
		Skipped:       skipped,
		Hits:          ranker.Rank(docs, req.Limit),
		ShardsQueried: 1,
		TookMs:        time.Since(start).Milliseconds(),
	}, nil
}

// plan is a score request resolved to a scorer instance.
type plan struct {
	scorer  scoring.Scorer
	query   scoring.QuerySpec
	explain bool
}

func newPlan(registry *scoring.Registry, req *parser.ScoreRequest) (*plan, error) {
	scorer, err := registry.New(req.Script, req.Params)
	if err != nil {
		return nil, err
	}
	matcher, ok := scorer.(scoring.Matcher)
	if !ok {
		return nil, fmt.Errorf("script %q does not declare its query terms", req.Script)
	}
	return &plan{scorer: scorer, query: matcher.Query(), explain: req.Explain}, nil
}

// collectCandidates returns documents containing any ngram term in the ngram
// field or any text term in the text field. A field with no terms is not
// consulted.
func collectCandidates(ctx context.Context, src CandidateSource, q scoring.QuerySpec) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	lookups := []struct {
		field string
		terms []string
	}{
		{q.NgramsField, q.NgramsTerms},
		{q.TextField, q.TextTerms},
	}
	for _, l := range lookups {
		if len(l.terms) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := src.Candidates(l.field, l.terms)
		if err != nil {
			return nil, fmt.Errorf("collecting candidates for field %q: %w", l.field, err)
		}
		for id := range found {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// scoreAll invokes the scorer once per candidate. A document whose score
// cannot be computed is left out and counted as skipped.
func (p *plan) scoreAll(ctx context.Context, ids map[string]struct{}, stats scoring.TermStatisticsProvider, m *metrics.Metrics) ([]ranker.ScoredDoc, int, error) {
	explainer, canExplain := p.scorer.(scoring.Explainer)
	docs := make([]ranker.ScoredDoc, 0, len(ids))
	skipped := 0
	n := 0
	for id := range ids {
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		doc := ranker.ScoredDoc{DocID: id}
		var err error
		if p.explain && canExplain {
			var b scoring.Breakdown
			b, err = explainer.Explain(stats)
			doc.Score, doc.Explanation = b.Score, &b
		} else {
			doc.Score, err = p.scorer.Score(stats)
		}
		if err != nil {
			skipped++
			if m != nil {
				m.ScoringErrorsTotal.WithLabelValues(errorField(err)).Inc()
			}
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

func (p *plan) observe(m *metrics.Metrics, candidates int) {
	if m != nil {
		m.CandidatesScored.Observe(float64(candidates))
	}
}

func errorField(err error) string {
	var se *scoring.ScoreError
	if errors.As(err, &se) {
		return se.Field
	}
	return "unknown"
}

type fieldTerm struct {
	field string
	term  string
}

// memoStats caches successful statistics lookups for the lifetime of one
// request. Failed lookups are not cached.
type memoStats struct {
	inner  scoring.TermStatisticsProvider
	mu     sync.Mutex
	counts map[string]int64
	freqs  map[fieldTerm]int64
}

func newMemoStats(inner scoring.TermStatisticsProvider) *memoStats {
	return &memoStats{
		inner:  inner,
		counts: make(map[string]int64),
		freqs:  make(map[fieldTerm]int64),
	}
}

func (s *memoStats) DocumentCount(field string) (int64, error) {
	s.mu.Lock()
	n, ok := s.counts[field]
	s.mu.Unlock()
	if ok {
		return n, nil
	}
	n, err := s.inner.DocumentCount(field)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.counts[field] = n
	s.mu.Unlock()
	return n, nil
}

func (s *memoStats) DocumentFrequency(field, term string) (int64, error) {
	key := fieldTerm{field, term}
	s.mu.Lock()
	df, ok := s.freqs[key]
	s.mu.Unlock()
	if ok {
		return df, nil
	}
	df, err := s.inner.DocumentFrequency(field, term)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.freqs[key] = df
	s.mu.Unlock()
	return df, nil
}
