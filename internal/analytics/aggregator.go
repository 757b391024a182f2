package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalScores       int64       `json:"total_scores"`
	TotalIndexed      int64       `json:"total_indexed"`
	IndexFailures     int64       `json:"index_failures"`
	CacheHits         int64       `json:"cache_hits"`
	CacheMisses       int64       `json:"cache_misses"`
	ZeroResultCount   int64       `json:"zero_result_count"`
	SkippedDocs       int64       `json:"skipped_docs"`
	PartialResults    int64       `json:"partial_results"`
	AvgLatencyMs      float64     `json:"avg_latency_ms"`
	P50LatencyMs      int64       `json:"p50_latency_ms"`
	P95LatencyMs      int64       `json:"p95_latency_ms"`
	P99LatencyMs      int64       `json:"p99_latency_ms"`
	TopScripts        []NameCount `json:"top_scripts"`
	TopQueries        []NameCount `json:"top_queries"`
	ZeroResultQueries []NameCount `json:"zero_result_queries"`
	ScoresPerMinute   float64     `json:"scores_per_minute"`
	CapturedAt        time.Time   `json:"captured_at"`
}

type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Aggregator folds score and index events into running totals.
type Aggregator struct {
	mu                sync.Mutex
	stats             AggregatedStats
	latencies         []int64
	next              int
	scriptCounts      map[string]int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	now               func() time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, maxLatencySamples),
		scriptCounts:      make(map[string]int64),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a Kafka handler feeding agg. Unknown and undecodable
// events are logged and acknowledged.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventScore:
			event, err := kafka.DecodeJSON[ScoreEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode score event", "error", err)
				return nil
			}
			agg.RecordScore(event)
		case EventIndex:
			event, err := kafka.DecodeJSON[IndexEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode index event", "error", err)
				return nil
			}
			agg.RecordIndex(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", envelope.Type, "key", string(key))
		}
		return nil
	}
}

func (a *Aggregator) RecordScore(event ScoreEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalScores++
	if event.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	if event.TotalHits == 0 {
		a.stats.ZeroResultCount++
		if event.Query != "" {
			a.zeroResultQueries[event.Query]++
		}
	}
	a.stats.SkippedDocs += int64(event.Skipped)
	if event.ShardsFailed > 0 {
		a.stats.PartialResults++
	}
	a.scriptCounts[event.Script]++
	if event.Query != "" {
		a.queryCounts[event.Query]++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event.Status {
	case ingestion.StatusIndexed:
		a.stats.TotalIndexed++
	case ingestion.StatusFailed:
		a.stats.IndexFailures++
	}
}

// Stats returns a snapshot of the running totals.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats
	stats.CapturedAt = a.now().UTC()
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopScripts = topN(a.scriptCounts, 10)
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.ScoresPerMinute = float64(stats.TotalScores) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count desc, then name asc.
func topN(counts map[string]int64, n int) []NameCount {
	result := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, NameCount{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
