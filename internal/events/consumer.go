package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/schema"
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler turns one input message into at most one output.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) (models.Message, bool)
}

// Sink receives the outputs produced by the handler.
type Sink interface {
	Publish(ctx context.Context, msg models.Message) error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads grammar-stage messages, runs them through the handler and
// publishes the outputs. Offsets are committed only after the output has
// been published, giving at-least-once delivery.
type Consumer struct {
	reader    Reader
	topic     string
	handler   Handler
	sink      Sink
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewConsumer creates a consumer backed by a kafka.Reader in a consumer group.
func NewConsumer(cfg *ConsumerConfig, handler Handler, sink Sink) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		Dialer:   newDialer(),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  250 * time.Millisecond,
	})

	logger := logging.WithComponent("consumer")
	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka consumer initialized")

	return newConsumer(reader, cfg.Topic, handler, sink)
}

func newConsumer(reader Reader, topic string, handler Handler, sink Sink) *Consumer {
	return &Consumer{
		reader:    reader,
		topic:     topic,
		handler:   handler,
		sink:      sink,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("consumer"),
	}
}

// Run consumes until ctx is done. It returns nil on cancellation and the
// first fetch, publish or commit error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("topic", c.topic).Msg("Consumer started")
	defer c.logger.Info().Str("topic", c.topic).Msg("Consumer stopped")

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.topic, err)
		}
		c.metrics.RecordKafkaConsumed(c.topic)

		if err := c.process(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", km.Offset, err)
		}
	}
}

// process handles one record. Malformed records are logged, counted and
// skipped; only a failed publish is returned.
func (c *Consumer) process(ctx context.Context, km kafka.Message) error {
	var msg models.Message
	if err := json.Unmarshal(km.Value, &msg); err != nil {
		c.reject(km, "malformed", err)
		return nil
	}
	if err := c.validator.Validate(msg); err != nil {
		c.reject(km, schema.Reason(err), err)
		return nil
	}

	out, ok := c.handler.Handle(ctx, msg)
	if !ok {
		return nil
	}

	if err := c.sink.Publish(ctx, out); err != nil {
		if errors.Is(err, ErrUnroutable) {
			c.logger.Warn().Err(err).Str("utteranceId", out.ID).Msg("Dropping unroutable output")
			return nil
		}
		return fmt.Errorf("publish %s for %s: %w", out.Event, out.ID, err)
	}
	return nil
}

func (c *Consumer) reject(km kafka.Message, reason string, err error) {
	c.metrics.RecordMessageRejected("kafka", reason)
	c.logger.Warn().
		Err(err).
		Str("key", string(km.Key)).
		Int("partition", km.Partition).
		Int64("offset", km.Offset).
		Str("reason", reason).
		Msg("Skipping invalid message")
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
