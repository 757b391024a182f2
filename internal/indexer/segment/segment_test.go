package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/conceptrank/conceptrank/internal/indexer/index"
	"github.com/conceptrank/conceptrank/internal/indexer/tokenizer"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

func buildSnapshot(t *testing.T) index.Snapshot {
	t.Helper()
	m := index.NewMemoryIndex("str", "str_ngrams")
	for id, str := range map[string]string{
		"A1": "heart attack",
		"A2": "heart failure",
		"A3": "lung cancer",
	} {
		err := m.AddDocument(id, map[string][]tokenizer.Token{
			"str":        tokenizer.Tokenize(str),
			"str_ngrams": tokenizer.Ngrams(str, 3),
		})
		if err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	return m.Snapshot()
}

func writeSegment(t *testing.T) (*Reader, string) {
	t.Helper()
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(buildSnapshot(t))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, name)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, path
}

func TestSegmentRoundTripStatistics(t *testing.T) {
	r, _ := writeSegment(t)

	if r.DocCount() != 3 {
		t.Errorf("DocCount() = %d, want 3", r.DocCount())
	}
	if n, err := r.DocumentCount("str"); err != nil || n != 3 {
		t.Errorf("DocumentCount(str) = %d, %v", n, err)
	}
	if df, err := r.DocumentFrequency("str", "heart"); err != nil || df != 2 {
		t.Errorf("df(heart) = %d, %v, want 2", df, err)
	}
	if df, err := r.DocumentFrequency("str", "absent"); err != nil || df != 0 {
		t.Errorf("df(absent) = %d, %v, want 0", df, err)
	}
	if df, err := r.DocumentFrequency("str_ngrams", "$he"); err != nil || df != 2 {
		t.Errorf("df($he) = %d, %v, want 2", df, err)
	}
	if _, err := r.DocumentCount("cui"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if _, err := r.DocumentFrequency("cui", "c1"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	ids := r.DocIDs()
	if len(ids) != 3 || ids[0] != "A1" || ids[2] != "A3" {
		t.Errorf("DocIDs() = %v", ids)
	}
}

func TestSegmentSearchAndCandidates(t *testing.T) {
	r, _ := writeSegment(t)

	postings, err := r.Search("str", "heart")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(postings) != 2 || postings[0].DocID != "A1" || postings[1].DocID != "A2" {
		t.Fatalf("Search(heart) = %+v", postings)
	}

	got := make(map[string]struct{})
	if err := r.Candidates("str", []string{"cancer", "attack"}, got); err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("candidates = %v", got)
	}
}

func TestOpenReaderRejectsCorruptDictionary(t *testing.T) {
	r, path := writeSegment(t)
	dictOffset := r.header.DictOffset
	r.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[dictOffset+2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestOpenReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+FileExt)
	if err := os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestWriteEmptySnapshot(t *testing.T) {
	if _, err := NewWriter(t.TempDir()).Write(index.Snapshot{}); err == nil {
		t.Fatal("expected error for empty snapshot")
	}
}
