package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

type fakePublisher struct {
	got []ingestion.Concept
	err error
}

func (f *fakePublisher) PublishBatch(ctx context.Context, concepts []ingestion.Concept) error {
	f.got = append(f.got, concepts...)
	return f.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Ingest(rec, httptest.NewRequest(http.MethodPost, "/api/v1/concepts", strings.NewReader(body)))
	return rec
}

func TestIngestAccepts(t *testing.T) {
	pub := &fakePublisher{}
	rec := post(New(pub), `{"concepts":[{"aui":"A1","cui":"C1","str":"heart attack"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted != 1 || resp.Status != ingestion.StatusPending {
		t.Errorf("resp = %+v", resp)
	}
	if len(pub.got) != 1 || pub.got[0].String != "heart attack" {
		t.Errorf("published %+v", pub.got)
	}
}

func TestIngestRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty", `{"concepts":[]}`, http.StatusBadRequest},
		{"invalid concept", `{"concepts":[{"aui":"A1","cui":"","str":"x"}]}`, http.StatusBadRequest},
		{"duplicate aui", `{"concepts":[{"aui":"A1","cui":"C1","str":"x"},{"aui":"A1","cui":"C2","str":"y"}]}`, http.StatusBadRequest},
		{"oversized body", `{"concepts":[{"aui":"A1","cui":"C1","str":"` + strings.Repeat("x", maxBodyBytes) + `"}]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			rec := post(New(pub), tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(pub.got) != 0 {
				t.Error("nothing should be published")
			}
		})
	}
}

func TestIngestPublishErrorStatus(t *testing.T) {
	pub := &fakePublisher{err: apperrors.ErrTimeout}
	rec := post(New(pub), `{"concepts":[{"aui":"A1","cui":"C1","str":"x"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestIngestValidationKeys(t *testing.T) {
	rec := post(New(&fakePublisher{}), `{"concepts":[
		{"aui":"","cui":"C1","str":"x"},
		{"aui":"","cui":"C2","str":"y"},
		{"aui":"A3","cui":"C3","str":"z"},
		{"aui":"A3","cui":"C4","str":"w"}]}`)
	var resp ValidationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"concepts[0]", "concepts[1]", "concepts[3]"} {
		if _, ok := resp.Concepts[key]; !ok {
			t.Errorf("missing errors for %s in %v", key, resp.Concepts)
		}
	}
	if got := resp.Concepts["concepts[3]"]["aui"]; got != "duplicates concepts[2]" {
		t.Errorf("duplicate message = %q", got)
	}
	if _, ok := resp.Concepts["A3"]; ok {
		t.Error("first occurrence of A3 is valid and should not be reported")
	}
}
