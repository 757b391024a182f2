// Package collector buffers analytics events in memory and ships them to
// Kafka in batches. The indexer uses it for per-concept index events, which
// arrive at import rate.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/pkg/kafka"
)

// backlogBatches bounds how many unsent batches are kept while the broker
// is unreachable.
const backlogBatches = 3

// BatchPublisher writes a batch of events to the analytics topic.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector sends a batch once batchSize events are buffered, and
// whatever is buffered every flushInterval. When publishing fails the
// events stay buffered up to backlogBatches batches; beyond that the
// oldest are dropped.
type BatchCollector struct {
	producer      BatchPublisher
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	buffer  []kafka.Event
	flushMu sync.Mutex
	dropped atomic.Int64

	full chan struct{}
	done chan struct{}
}

func NewBatchCollector(producer BatchPublisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		producer:      producer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "batch-collector"),
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled, flushing once more on
// the way out.
func (bc *BatchCollector) Start(ctx context.Context) {
	bc.logger.Info("batch collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bc.full:
				bc.Flush(ctx)
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				bc.Flush(final)
				cancel()
				if n := bc.dropped.Load(); n > 0 {
					bc.logger.Warn("events dropped while broker was unavailable", "dropped", n)
				}
				return
			}
		}
	}()
}

// Track buffers event and wakes the flush loop when a batch is full.
func (bc *BatchCollector) Track(event analytics.Event) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: string(event.Kind()), Value: event})
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()
	if full {
		select {
		case bc.full <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop to exit.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Dropped reports how many events were discarded because the backlog was
// full.
func (bc *BatchCollector) Dropped() int64 {
	return bc.dropped.Load()
}

// Flush sends the buffer in batchSize chunks, stopping at the first
// failure. Unsent events go back in front of anything tracked meanwhile.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	pending := bc.buffer
	bc.buffer = nil
	bc.mu.Unlock()

	sent := 0
	for sent < len(pending) {
		chunk := pending[sent:min(sent+bc.batchSize, len(pending))]
		if err := bc.producer.PublishBatch(ctx, chunk); err != nil {
			bc.logger.Error("batch publish failed", "events", len(chunk), "unsent", len(pending)-sent, "error", err)
			bc.requeue(pending[sent:])
			return
		}
		sent += len(chunk)
	}
	if sent > 0 {
		bc.logger.Debug("batches flushed", "events", sent)
	}
}

func (bc *BatchCollector) requeue(unsent []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	merged := append(unsent, bc.buffer...)
	if limit := bc.batchSize * backlogBatches; len(merged) > limit {
		over := len(merged) - limit
		bc.dropped.Add(int64(over))
		merged = merged[over:]
	}
	bc.buffer = merged
}
