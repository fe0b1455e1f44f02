// Package kafka publishes push notifications to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/metrics"
)

// Producer errors
var (
	ErrProducerClosed = errors.New("producer is closed")
	ErrNoBrokers      = errors.New("at least one broker is required")
	ErrEmptyTopic     = errors.New("topic is required")
)

// MessageWriter is the subset of kafka.Writer used by the producer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes one message per push topic, retrying with exponential backoff
type Producer struct {
	writer       MessageWriter
	maxRetries   int
	retryBackoff time.Duration
	closed       atomic.Bool
	logger       zerolog.Logger

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
}

// NewProducer creates a producer connected to the configured brokers.
// The writer carries no default topic; every message names its own.
func NewProducer(cfg config.KafkaConfig, logger zerolog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return NewProducerWithWriter(newWriter(cfg), cfg, logger), nil
}

// newWriter builds a writer that flushes every message on its own. Each
// publish is a single synchronous push, so batching would only delay it.
func newWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            1,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(w MessageWriter, cfg config.KafkaConfig, logger zerolog.Logger) *Producer {
	return &Producer{
		writer:       w,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger.With().Str("component", "kafka_producer").Logger(),
	}
}

// Publish writes payload to topic
func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if topic == "" {
		return ErrEmptyTopic
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(topic),
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.publishWithRetry(ctx, msg); err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}
	p.messagesSent.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// publishWithRetry publishes a single message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	backoff := p.retryBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("topic", msg.Topic).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
				backoff *= 2
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	p.logger.Error().
		Err(lastErr).
		Int("attempts", p.maxRetries+1).
		Str("topic", msg.Topic).
		Msg("kafka publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

// Close closes the underlying writer
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
	}
}

// ProducerStats holds producer counters
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
}
