package shard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/conceptrank/conceptrank/internal/indexer"
	"github.com/conceptrank/conceptrank/internal/scoring"
	"github.com/conceptrank/conceptrank/pkg/config"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

var _ scoring.TermStatisticsProvider = (*Statistics)(nil)

func newTestRouter(t *testing.T, shards int) *Router {
	t.Helper()
	r, err := NewRouter(config.IndexerConfig{
		DataDir:        t.TempDir(),
		NumShards:      shards,
		SegmentMaxSize: 1 << 30,
		Fields: []config.FieldConfig{
			{Name: "str", Source: "str", Analyzer: "text"},
			{Name: "str_ngrams", Source: "str", Analyzer: "ngrams", NgramSize: 3},
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestShardForIsStableAndInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("A%07d", i)
		s := ShardFor(id, 4)
		if s < 0 || s >= 4 {
			t.Fatalf("ShardFor(%s) = %d out of range", id, s)
		}
		if again := ShardFor(id, 4); again != s {
			t.Fatalf("ShardFor(%s) not stable: %d vs %d", id, s, again)
		}
	}
	if ShardFor("anything", 1) != 0 {
		t.Error("single shard must always map to 0")
	}
}

func TestRouterStatisticsSumAcrossShards(t *testing.T) {
	r := newTestRouter(t, 3)
	for i := 0; i < 30; i++ {
		str := "heart attack"
		if i%3 == 0 {
			str = "lung cancer"
		}
		doc := indexer.Document{ID: fmt.Sprintf("A%07d", i), Fields: map[string]string{"str": str}}
		if _, err := r.IndexDocument(doc); err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
	}
	if err := r.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	stats := r.Statistics()
	if n, err := stats.DocumentCount("str"); err != nil || n != 30 {
		t.Errorf("DocumentCount(str) = %d, %v, want 30", n, err)
	}
	if df, err := stats.DocumentFrequency("str", "heart"); err != nil || df != 20 {
		t.Errorf("df(heart) = %d, %v, want 20", df, err)
	}
	if df, err := stats.DocumentFrequency("str", "cancer"); err != nil || df != 10 {
		t.Errorf("df(cancer) = %d, %v, want 10", df, err)
	}
	if _, err := stats.DocumentCount("cui"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if r.TotalDocs() != 30 {
		t.Errorf("TotalDocs() = %d, want 30", r.TotalDocs())
	}
}

func TestRouterRouteOutOfRange(t *testing.T) {
	r := newTestRouter(t, 2)
	if _, err := r.Route(2); !errors.Is(err, apperrors.ErrShardUnavailable) {
		t.Errorf("Route(2): expected ErrShardUnavailable, got %v", err)
	}
	if _, err := r.Route(-1); !errors.Is(err, apperrors.ErrShardUnavailable) {
		t.Errorf("Route(-1): expected ErrShardUnavailable, got %v", err)
	}
}

func TestRouterReopensFlushedShards(t *testing.T) {
	cfg := config.IndexerConfig{
		DataDir:        t.TempDir(),
		NumShards:      3,
		SegmentMaxSize: 1 << 30,
		Fields: []config.FieldConfig{
			{Name: "str", Source: "str", Analyzer: "text"},
		},
	}
	r, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	for i := 0; i < 30; i++ {
		doc := indexer.Document{ID: fmt.Sprintf("A%07d", i), Fields: map[string]string{"str": "myocardial infarction"}}
		if _, err := r.IndexDocument(doc); err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	if got := reopened.TotalDocs(); got != 30 {
		t.Errorf("TotalDocs after reopen = %d, want 30", got)
	}
	if n, err := reopened.ReloadAll(); err != nil || n != 0 {
		t.Errorf("ReloadAll = %d, %v; want nothing new", n, err)
	}
}

func TestNewRouterRejectsZeroShards(t *testing.T) {
	if _, err := NewRouter(config.IndexerConfig{DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected an error for zero shards")
	}
}
