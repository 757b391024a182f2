package publisher

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

type fakeStore struct {
	batches [][]ingestion.ConceptEvent
	err     error
}

func (f *fakeStore) UpsertBatch(ctx context.Context, events []ingestion.ConceptEvent) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

type fakeProducer struct {
	failures int
	calls    int
	events   []kafka.Event
}

func (f *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker not available")
	}
	f.events = append(f.events, events...)
	return nil
}

func newTestPublisher(store ConceptStore, producer EventProducer) *Publisher {
	p := New(store, producer, 4)
	p.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

var concepts = []ingestion.Concept{
	{AUI: "A0016458", CUI: "C0000005", String: "heart attack"},
	{AUI: "A0016515", CUI: "C0000039", String: "lung cancer"},
}

func TestPublishBatchPersistsThenPublishes(t *testing.T) {
	store := &fakeStore{}
	producer := &fakeProducer{}
	p := newTestPublisher(store, producer)

	if err := p.PublishBatch(context.Background(), concepts); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("store batches = %+v", store.batches)
	}
	if len(producer.events) != 2 {
		t.Fatalf("published %d events, want 2", len(producer.events))
	}
	for i, ev := range producer.events {
		ce := ev.Value.(ingestion.ConceptEvent)
		wantShard := shard.ShardFor(concepts[i].AUI, 4)
		if ce.ShardID != wantShard || ev.Key != strconv.Itoa(wantShard) {
			t.Errorf("event %d: shard %d key %s, want %d", i, ce.ShardID, ev.Key, wantShard)
		}
		if !ce.ImportedAt.Equal(p.now()) {
			t.Errorf("event %d ImportedAt = %v", i, ce.ImportedAt)
		}
	}
}

func TestPublishBatchRetriesProducer(t *testing.T) {
	producer := &fakeProducer{failures: 2}
	p := newTestPublisher(nil, producer)
	if err := p.PublishBatch(context.Background(), concepts); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if producer.calls != 3 {
		t.Errorf("calls = %d, want 3", producer.calls)
	}
}

func TestPublishBatchFailures(t *testing.T) {
	p := newTestPublisher(&fakeStore{err: errors.New("db down")}, &fakeProducer{})
	if err := p.PublishBatch(context.Background(), concepts); err == nil {
		t.Error("expected store error")
	}

	producer := &fakeProducer{failures: 10}
	p = newTestPublisher(nil, producer)
	if err := p.PublishBatch(context.Background(), concepts); err == nil {
		t.Error("expected publish error after retries")
	}
	if producer.calls != 3 {
		t.Errorf("calls = %d, want 3", producer.calls)
	}
}

func TestPublishBatchEmpty(t *testing.T) {
	producer := &fakeProducer{}
	if err := newTestPublisher(nil, producer).PublishBatch(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if producer.calls != 0 {
		t.Error("empty batch should not reach the producer")
	}
}
