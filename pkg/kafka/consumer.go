// Package kafka carries concept and analytics events between services over
// segmentio/kafka-go. Producers serialise events as JSON; consumers hand raw
// messages to a MessageHandler and commit once the handler is done with them.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/conceptrank/conceptrank/pkg/config"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

// MessageHandler processes one message. A returned error is retried a few
// times before the message is logged and skipped.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// fetcher is the part of *kafka.Reader the consume loop needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     fetcher
	handler    MessageHandler
	retry      resilience.RetryConfig
	fetchPause time.Duration
	logger     *slog.Logger
}

// NewConsumer joins cfg.ConsumerGroup on topic. A group without committed
// offsets starts from the beginning of the topic.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, handler, slog.Default().With("component", "kafka-consumer", "topic", topic, "group", cfg.ConsumerGroup))
}

func newConsumer(reader fetcher, handler MessageHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		fetchPause: time.Second,
		logger:     logger,
	}
}

// Start consumes until ctx is cancelled, then closes the reader. Messages
// are committed in order after processing, including ones the handler
// finally gave up on, so a poison message cannot stall its partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			return c.reader.Close()
		case err != nil:
			c.logger.Error("fetch failed", "error", err)
			if !sleep(ctx, c.fetchPause) {
				return c.reader.Close()
			}
			continue
		}

		c.process(ctx, msg)
		if ctx.Err() != nil {
			return c.reader.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	op := fmt.Sprintf("handle %d/%d", msg.Partition, msg.Offset)
	err := resilience.Retry(ctx, op, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("dropping message after handler failures",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding kafka message: %w", err)
	}
	return v, nil
}

// Ping succeeds if any broker accepts a connection.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka unreachable: no brokers configured")
	}
	var errs []error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	return fmt.Errorf("kafka unreachable: %w", errors.Join(errs...))
}
