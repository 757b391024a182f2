// Package publisher persists concept batches to the catalogue and publishes
// one ConceptEvent per concept to Kafka for the indexer. Shard placement is
// decided here so the catalogue and the index agree.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

// ConceptStore persists concept events. A nil store skips persistence.
type ConceptStore interface {
	UpsertBatch(ctx context.Context, events []ingestion.ConceptEvent) error
}

type EventProducer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher coordinates concept persistence and Kafka event production.
type Publisher struct {
	store     ConceptStore
	producer  EventProducer
	numShards int
	retry     resilience.RetryConfig
	now       func() time.Time
	logger    *slog.Logger
}

func New(store ConceptStore, producer EventProducer, numShards int) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		numShards: numShards,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		now:    time.Now,
		logger: slog.Default().With("component", "publisher"),
	}
}

// PublishBatch assigns shards, persists the batch and publishes it. Kafka
// writes are retried with backoff; a persisted batch whose publish finally
// fails stays PENDING in the catalogue.
func (p *Publisher) PublishBatch(ctx context.Context, concepts []ingestion.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	importedAt := p.now().UTC()
	events := make([]ingestion.ConceptEvent, 0, len(concepts))
	messages := make([]kafka.Event, 0, len(concepts))
	for _, c := range concepts {
		ev := ingestion.ConceptEvent{
			Concept:    c,
			ShardID:    shard.ShardFor(c.AUI, p.numShards),
			ImportedAt: importedAt,
		}
		events = append(events, ev)
		messages = append(messages, kafka.Event{
			Key:   strconv.Itoa(ev.ShardID),
			Value: ev,
		})
	}

	if p.store != nil {
		if err := p.store.UpsertBatch(ctx, events); err != nil {
			return fmt.Errorf("persisting %d concepts: %w", len(events), err)
		}
	}

	err := resilience.Retry(ctx, "kafka-publish", p.retry, func() error {
		return p.producer.PublishBatch(ctx, messages)
	})
	if err != nil {
		p.logger.Error("failed to publish batch, concepts stuck in PENDING",
			"count", len(messages),
			"first_aui", concepts[0].AUI,
			"error", err,
		)
		return fmt.Errorf("publishing %d concepts: %w", len(messages), err)
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}
