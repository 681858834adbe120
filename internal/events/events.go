// Package events forwards lifecycle events to other systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/pkg/core"
)

// Publisher receives lifecycle events.
type Publisher interface {
	PublishEvent(ctx context.Context, e core.Event) error
}

// Multi fans an event out to every publisher. Nil entries are skipped.
type Multi []Publisher

// PublishEvent implements Publisher. Every publisher is tried; their
// errors are joined.
func (m Multi) PublishEvent(ctx context.Context, e core.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KafkaWriter defines the subset of kafka.Writer the publisher uses.
// This allows for easy mocking in unit tests.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON, keyed by location id so that all
// events of one location land on the same partition in order.
type KafkaPublisher struct {
	writer KafkaWriter
	logger *slog.Logger
}

// NewKafkaPublisher wraps an existing writer.
func NewKafkaPublisher(w KafkaWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// NewKafka creates a publisher for the configured brokers. Writes are
// asynchronous; delivery failures are logged and never reach the caller.
func NewKafka(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("Failed to deliver events", "count", len(msgs), "topic", cfg.Topic, "error", err)
			}
		},
	}
	return NewKafkaPublisher(w, logger), nil
}

// Message encodes e the way it is written to the topic.
func Message(e core.Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(e.LocationID),
		Value: data,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// PublishEvent implements Publisher.
func (p *KafkaPublisher) PublishEvent(ctx context.Context, e core.Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Failed to close kafka writer", "error", err)
		return err
	}
	return nil
}
