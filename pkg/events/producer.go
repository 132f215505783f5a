// Package events publishes application lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers         []string
	SubmissionTopic string
}

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes submission events
type Producer struct {
	writer  messageWriter
	logger  ectologger.Logger
	topic   string
	brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.SubmissionTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		AllowAutoTopicCreation: true,
	}

	p := newProducer(writer, cfg.SubmissionTopic, logger)
	p.brokers = cfg.Brokers
	return p
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Ping dials the first reachable broker
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// SubmittedEvent is published once the remote service accepted an application
type SubmittedEvent struct {
	EventID       string    `json:"event_id"`
	SessionID     string    `json:"session_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	ContactLineID string    `json:"contact_line_id,omitempty"`
	Status        string    `json:"status"`
	Attempt       int       `json:"attempt"`
	SubmittedAt   time.Time `json:"submitted_at"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// PublishSubmitted writes the event keyed by session so one session's events stay ordered
func (p *Producer) PublishSubmitted(ctx context.Context, event SubmittedEvent) error {
	ctx, span := tracing.StartSpan(ctx, "events.PublishSubmitted")
	defer span.End()

	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	value, err := json.Marshal(event)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to marshal submitted event: %w", err)
	}

	span.SetAttributes(
		attribute.String("kafka.topic", p.topic),
		attribute.String("intake.session_id", event.SessionID),
	)

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("application.submitted")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish submitted event for session %s", event.SessionID)
		return fmt.Errorf("failed to publish submitted event: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	p.logger.WithContext(ctx).Debugf("Published submitted event %s to %s", event.EventID, p.topic)
	return nil
}
