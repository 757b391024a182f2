package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conceptrank/conceptrank/pkg/kafka"
)

// maxBatch caps how many queued events one publish call carries.
const maxBatch = 64

// Publisher writes events to the analytics topic.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector decouples request handlers from Kafka. Track never blocks: it
// queues the event, or drops it when the queue is full. The publish loop
// sends whatever has queued up since its last call as one batch.
type Collector struct {
	producer Publisher
	queue    chan Event
	dropped  atomic.Int64
	logger   *slog.Logger
	done     chan struct{}
	stop     sync.Once
}

func NewCollector(producer Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		queue:    make(chan Event, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

// Start runs the publish loop until ctx is cancelled or Close is called.
// Whatever is queued at that point is still published.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("analytics collector started", "buffer_size", cap(c.queue))
	go func() {
		defer close(c.done)
		batch := make([]kafka.Event, 0, maxBatch)
		for {
			select {
			case ev, ok := <-c.queue:
				if !ok {
					return
				}
				batch = c.fill(append(batch[:0], envelope(ev)))
				c.send(ctx, batch)
			case <-ctx.Done():
				c.drain()
				return
			}
		}
	}()
}

// Track queues event without blocking.
func (c *Collector) Track(event Event) {
	select {
	case c.queue <- event:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("analytics queue full, events dropped", "dropped_total", n, "type", event.Kind())
		}
	}
}

// Dropped reports how many events Track discarded.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops the loop after publishing what is queued. Track must not be
// called after Close.
func (c *Collector) Close() {
	c.stop.Do(func() { close(c.queue) })
	<-c.done
}

// fill tops batch up with events already waiting in the queue.
func (c *Collector) fill(batch []kafka.Event) []kafka.Event {
	for len(batch) < maxBatch {
		select {
		case ev, ok := <-c.queue:
			if !ok {
				return batch
			}
			batch = append(batch, envelope(ev))
		default:
			return batch
		}
	}
	return batch
}

func (c *Collector) send(ctx context.Context, batch []kafka.Event) {
	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics events", "events", len(batch), "error", err)
	}
}

func (c *Collector) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		batch := c.fill(nil)
		if len(batch) == 0 {
			return
		}
		c.send(ctx, batch)
	}
}

func envelope(ev Event) kafka.Event {
	return kafka.Event{Key: string(ev.Kind()), Value: ev}
}
