// Package events moves pipeline messages over Kafka.
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
)

// ErrUnroutable is returned for messages that have no output topic.
var ErrUnroutable = errors.New("no topic for event")

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// route is the destination of one output event kind. A nil writer means
// log-only.
type route struct {
	topic  string
	label  string
	writer messageWriter
}

// Publisher publishes PREVIEW and FINAL outputs to their own topics. Every
// record is keyed by utterance ID so one utterance stays on one partition.
type Publisher struct {
	routes    map[models.EventKind]*route
	principal string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPreview string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a publisher. With a nil or disabled config, or no brokers, it
// only logs what it would have written.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}

	p := &Publisher{
		routes: map[models.EventKind]*route{
			models.EventPreview: {topic: cfg.TopicPreview, label: "preview"},
			models.EventFinal:   {topic: cfg.TopicFinal, label: "final"},
		},
		principal: cfg.Principal,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("publisher"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	transport := &kafka.Transport{Dial: newDialer().DialFunc}
	for _, r := range p.routes {
		r.writer = newWriter(cfg.Brokers, r.topic, transport)
	}

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPreview", cfg.TopicPreview).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newDialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Publish writes msg to the topic for its event kind.
func (p *Publisher) Publish(ctx context.Context, msg models.Message) error {
	r, ok := p.routes[msg.Event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnroutable, msg.Event)
	}
	return p.write(ctx, r, msg)
}

func (p *Publisher) write(ctx context.Context, r *route, msg models.Message) error {
	start := time.Now()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.label, err)
	}

	log := p.logger.With().
		Str("topic", r.topic).
		Str("utteranceId", msg.ID).
		Logger()
	log.Debug().RawJSON("payload", payload).Msg("Publishing message")

	if r.writer == nil {
		p.metrics.RecordKafkaPublish(r.topic, r.label, nil, time.Since(start).Seconds())
		return nil
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(msg.Event)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	p.metrics.RecordKafkaPublish(r.topic, r.label, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Msg("Failed to write to Kafka")
		return fmt.Errorf("write %s: %w", r.topic, err)
	}
	return nil
}

// Close closes every writer and joins their errors.
func (p *Publisher) Close() error {
	var errs []error
	for _, r := range p.routes {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Close(); err != nil {
			p.logger.Error().Err(err).Str("topic", r.topic).Msg("Error closing writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
