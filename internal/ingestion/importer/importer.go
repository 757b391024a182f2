// Package importer streams concepts from a source (an MRCONSO reader)
// through validation into the publisher in fixed-size batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/internal/ingestion/validator"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
	"github.com/conceptrank/conceptrank/pkg/metrics"
)

// ConceptSource yields concepts until io.EOF. Errors matching
// apperrors.ErrInvalidInput are per-row and the source stays usable.
type ConceptSource interface {
	Next() (ingestion.Concept, error)
}

type BatchPublisher interface {
	PublishBatch(ctx context.Context, concepts []ingestion.Concept) error
}

// Stats summarises one import run.
type Stats struct {
	Read      int
	Invalid   int
	Published int
	Duration  time.Duration
}

type Importer struct {
	publisher   BatchPublisher
	batchSize   int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	reportEvery int
}

// New creates an Importer. m may be nil.
func New(pub BatchPublisher, batchSize int, m *metrics.Metrics) *Importer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Importer{
		publisher:   pub,
		batchSize:   batchSize,
		metrics:     m,
		logger:      slog.Default().With("component", "importer"),
		reportEvery: 100_000,
	}
}

// Run drains src. Invalid rows are logged and counted; a publish failure or
// a non-row read error stops the run.
func (im *Importer) Run(ctx context.Context, src ConceptSource) (Stats, error) {
	start := time.Now()
	var stats Stats
	batch := make([]ingestion.Concept, 0, im.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.publisher.PublishBatch(ctx, batch); err != nil {
			im.count("failed", len(batch))
			return err
		}
		stats.Published += len(batch)
		im.count("published", len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("import cancelled after %d concepts: %w", stats.Published, err)
		}
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				stats.Invalid++
				im.count("invalid", 1)
				im.logger.Warn("skipping malformed row", "error", err)
				continue
			}
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("reading concepts: %w", err)
		}
		stats.Read++
		if err := validator.ValidateConcept(&c); err != nil {
			stats.Invalid++
			im.count("invalid", 1)
			im.logger.Warn("skipping invalid concept", "aui", c.AUI, "error", err)
			continue
		}
		batch = append(batch, c)
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
		}
		if im.reportEvery > 0 && stats.Read%im.reportEvery == 0 {
			im.logger.Info("import progress",
				"read", stats.Read,
				"published", stats.Published,
				"invalid", stats.Invalid,
			)
		}
	}
	if err := flush(); err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}
	stats.Duration = time.Since(start)
	im.logger.Info("import complete",
		"read", stats.Read,
		"published", stats.Published,
		"invalid", stats.Invalid,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (im *Importer) count(status string, n int) {
	if im.metrics != nil {
		im.metrics.ConceptsImportedTotal.WithLabelValues(status).Add(float64(n))
	}
}
