// Package consumer reads concept events from Kafka and indexes them into
// the shard that owns each concept.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/internal/indexer"
	"github.com/conceptrank/conceptrank/internal/indexer/shard"
	"github.com/conceptrank/conceptrank/internal/ingestion"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
	"github.com/conceptrank/conceptrank/pkg/kafka"
	"github.com/conceptrank/conceptrank/pkg/metrics"
)

// StatusUpdater records the indexing outcome of a concept. Nil disables
// status tracking.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, aui, status string) error
}

// EventTracker receives an index event per concept. Nil disables tracking.
type EventTracker interface {
	Track(event analytics.Event)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that indexes each concept
// event into the shard chosen by shard.ShardFor. The event's ShardID is
// only a hint recorded by the importer; placement is recomputed so that a
// change in shard count cannot misroute concepts. Undecodable messages and
// redeliveries of already indexed concepts are acknowledged and dropped.
func HandleMessage(router *shard.Router, status StatusUpdater, m *metrics.Metrics, events EventTracker) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	count := func(outcome string) {
		if m != nil {
			m.ConceptsIndexedTotal.WithLabelValues(outcome).Inc()
		}
	}
	track := func(aui string, shardID int, outcome string) {
		if events != nil {
			events.Track(analytics.IndexEvent{
				Type:      analytics.EventIndex,
				AUI:       aui,
				ShardID:   shardID,
				Status:    outcome,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ConceptEvent](value)
		if err != nil {
			logger.Error("failed to decode concept event",
				"error", err,
				"key", string(key),
			)
			count("invalid")
			return nil
		}
		c := event.Concept
		doc := indexer.Document{ID: c.AUI, Fields: c.SourceFields()}

		shardID, err := router.IndexDocument(doc)
		if errors.Is(err, apperrors.ErrDocumentExists) {
			logger.Debug("concept already indexed, skipping", "aui", c.AUI, "shard_id", shardID)
			count("duplicate")
			return nil
		}
		if err != nil {
			updateStatus(ctx, status, c.AUI, ingestion.StatusFailed, logger)
			count("failed")
			track(c.AUI, shardID, ingestion.StatusFailed)
			return fmt.Errorf("indexing concept %s in shard %d: %w", c.AUI, shardID, err)
		}

		updateStatus(ctx, status, c.AUI, ingestion.StatusIndexed, logger)
		count("indexed")
		track(c.AUI, shardID, ingestion.StatusIndexed)
		if m != nil {
			if engine, err := router.Route(shardID); err == nil {
				m.ShardDocCount.WithLabelValues(fmt.Sprint(shardID)).Set(float64(engine.TotalDocs()))
			}
		}
		logger.Debug("concept indexed",
			"aui", c.AUI,
			"cui", c.CUI,
			"shard_id", shardID,
		)
		return nil
	}
}

func updateStatus(ctx context.Context, status StatusUpdater, aui, value string, logger *slog.Logger) {
	if status == nil {
		return
	}
	if err := status.UpdateStatus(ctx, aui, value); err != nil {
		logger.Error("failed to update concept status",
			"aui", aui,
			"status", value,
			"error", err,
		)
	}
}
