package analytics

import "time"

type EventType string

const (
	EventScore EventType = "score"
	EventIndex EventType = "index"
)

// Event is anything the collectors can publish.
type Event interface {
	Kind() EventType
}

// ScoreEvent describes one served score request.
type ScoreEvent struct {
	Type         EventType `json:"type"`
	Script       string    `json:"script"`
	Query        string    `json:"query,omitempty"`
	NgramTerms   int       `json:"ngram_terms"`
	TextTerms    int       `json:"text_terms"`
	TotalHits    int       `json:"total_hits"`
	Returned     int       `json:"returned"`
	Skipped      int       `json:"skipped"`
	ShardsFailed int       `json:"shards_failed"`
	LatencyMs    int64     `json:"latency_ms"`
	CacheHit     bool      `json:"cache_hit"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}

func (ScoreEvent) Kind() EventType { return EventScore }

// IndexEvent describes the indexing outcome of one concept.
type IndexEvent struct {
	Type      EventType `json:"type"`
	AUI       string    `json:"aui"`
	ShardID   int       `json:"shard_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (IndexEvent) Kind() EventType { return EventIndex }
