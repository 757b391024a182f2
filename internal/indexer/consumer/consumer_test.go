package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/metrics"
)

type trackedEvents []analytics.Event

func (e *trackedEvents) Track(event analytics.Event) { *e = append(*e, event) }

type statusLog map[string]string

func (s statusLog) UpdateStatus(ctx context.Context, aui, status string) error {
	s[aui] = status
	return nil
}

func newRouter(t *testing.T) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.IndexerConfig{
		DataDir:        t.TempDir(),
		NumShards:      2,
		SegmentMaxSize: 1 << 30,
		Fields: []config.FieldConfig{
			{Name: "str", Source: "str", Analyzer: "text"},
			{Name: "str_ngrams", Source: "str", Analyzer: "ngrams", NgramSize: 3},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func encode(t *testing.T, c ingestion.Concept) []byte {
	t.Helper()
	b, err := json.Marshal(ingestion.ConceptEvent{Concept: c, ShardID: 99, ImportedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessageIndexesConcept(t *testing.T) {
	router := newRouter(t)
	status := statusLog{}
	events := &trackedEvents{}
	handle := HandleMessage(router, status, metrics.NewWithRegistry(prometheus.NewRegistry()), events)

	c := ingestion.Concept{AUI: "A0016458", CUI: "C0000005", String: "heart attack"}
	if err := handle(context.Background(), []byte("0"), encode(t, c)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status["A0016458"] != ingestion.StatusIndexed {
		t.Errorf("status = %q, want INDEXED", status["A0016458"])
	}
	df, err := router.Statistics().DocumentFrequency("str", "heart")
	if err != nil || df != 1 {
		t.Errorf("df(heart) = %d, %v", df, err)
	}
	df, err = router.Statistics().DocumentFrequency("str_ngrams", "$he")
	if err != nil || df != 1 {
		t.Errorf("df($he) = %d, %v", df, err)
	}

	if err := handle(context.Background(), []byte("0"), encode(t, c)); err != nil {
		t.Errorf("redelivery should be acknowledged, got %v", err)
	}
	if router.TotalDocs() != 1 {
		t.Errorf("TotalDocs() = %d after redelivery, want 1", router.TotalDocs())
	}
	if len(*events) != 1 {
		t.Fatalf("tracked %d events, want 1", len(*events))
	}
	ev := (*events)[0].(analytics.IndexEvent)
	if ev.AUI != "A0016458" || ev.Status != ingestion.StatusIndexed || ev.ShardID != shard.ShardFor("A0016458", 2) {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleMessageDropsGarbage(t *testing.T) {
	router := newRouter(t)
	handle := HandleMessage(router, nil, nil, nil)
	if err := handle(context.Background(), nil, []byte("not json")); err != nil {
		t.Errorf("undecodable message should be acknowledged, got %v", err)
	}
	if router.TotalDocs() != 0 {
		t.Error("nothing should be indexed")
	}
}
