package indexer

import (
	"errors"
	"testing"

	"github.com/conceptrank/conceptrank/pkg/config"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

func testIndexerConfig(dir string) config.IndexerConfig {
	return config.IndexerConfig{
		DataDir:        dir,
		NumShards:      1,
		SegmentMaxSize: 1 << 30,
		Fields: []config.FieldConfig{
			{Name: "str", Source: "str", Analyzer: "text"},
			{Name: "str_ngrams", Source: "str", Analyzer: "ngrams", NgramSize: 3},
		},
	}
}

func concept(id, str string) Document {
	return Document{ID: id, Fields: map[string]string{"str": str}}
}

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(testIndexerConfig(dir))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineStatisticsAcrossFlush(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	for _, d := range []Document{
		concept("A1", "heart attack"),
		concept("A2", "heart failure"),
	} {
		if err := e.IndexDocument(d); err != nil {
			t.Fatalf("IndexDocument(%s): %v", d.ID, err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.IndexDocument(concept("A3", "heart murmur")); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	if e.SegmentCount() != 1 {
		t.Errorf("SegmentCount() = %d, want 1", e.SegmentCount())
	}
	if e.TotalDocs() != 3 {
		t.Errorf("TotalDocs() = %d, want 3", e.TotalDocs())
	}
	if n, err := e.DocumentCount("str"); err != nil || n != 3 {
		t.Errorf("DocumentCount(str) = %d, %v, want 3", n, err)
	}
	if df, err := e.DocumentFrequency("str", "heart"); err != nil || df != 3 {
		t.Errorf("df(heart) = %d, %v, want 3", df, err)
	}
	if df, err := e.DocumentFrequency("str_ngrams", "$he"); err != nil || df != 3 {
		t.Errorf("df($he) = %d, %v, want 3", df, err)
	}
	if df, err := e.DocumentFrequency("str", "murmur"); err != nil || df != 1 {
		t.Errorf("df(murmur) = %d, %v, want 1", df, err)
	}

	got, err := e.Candidates("str", []string{"attack", "murmur"})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if _, ok := got["A1"]; !ok || len(got) != 2 {
		t.Errorf("Candidates = %v, want A1 and A3", got)
	}
}

func TestEngineUnknownField(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	if _, err := e.DocumentCount("cui"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("DocumentCount: expected ErrUnknownField, got %v", err)
	}
	if _, err := e.DocumentFrequency("cui", "c1"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("DocumentFrequency: expected ErrUnknownField, got %v", err)
	}
	if _, err := e.Candidates("cui", []string{"c1"}); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("Candidates: expected ErrUnknownField, got %v", err)
	}
}

func TestEngineRejectsDuplicateAfterFlush(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	if err := e.IndexDocument(concept("A1", "heart attack")); err != nil {
		t.Fatal(err)
	}
	if err := e.IndexDocument(concept("A1", "again")); !errors.Is(err, apperrors.ErrDocumentExists) {
		t.Errorf("in-memory duplicate: got %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := e.IndexDocument(concept("A1", "again")); !errors.Is(err, apperrors.ErrDocumentExists) {
		t.Errorf("flushed duplicate: got %v", err)
	}
}

func TestEngineReloadsSegmentsFromDisk(t *testing.T) {
	dir := t.TempDir()
	writer := newTestEngine(t, dir)
	if err := writer.IndexDocument(concept("A1", "heart attack")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatal(err)
	}

	reader := newTestEngine(t, dir)
	defer reader.Close()
	if reader.TotalDocs() != 1 {
		t.Fatalf("TotalDocs() after open = %d, want 1", reader.TotalDocs())
	}

	if err := writer.IndexDocument(concept("A2", "lung cancer")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	n, err := reader.ReloadSegments()
	if err != nil {
		t.Fatalf("ReloadSegments: %v", err)
	}
	if n != 1 {
		t.Errorf("ReloadSegments() = %d, want 1", n)
	}
	if n, _ := reader.ReloadSegments(); n != 0 {
		t.Errorf("second ReloadSegments() = %d, want 0", n)
	}
	if df, err := reader.DocumentFrequency("str", "cancer"); err != nil || df != 1 {
		t.Errorf("df(cancer) = %d, %v, want 1", df, err)
	}
}

func TestEngineFlushesAtSizeThreshold(t *testing.T) {
	cfg := testIndexerConfig(t.TempDir())
	cfg.SegmentMaxSize = 1
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.IndexDocument(concept("A1", "heart attack")); err != nil {
		t.Fatal(err)
	}
	if e.SegmentCount() != 1 {
		t.Errorf("SegmentCount() = %d, want 1 after threshold flush", e.SegmentCount())
	}
}
