package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/pisafe/pisafe/internal/config"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	err      error
	written  []kafka.Message
	calls    int
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testConfig() config.KafkaConfig {
	return config.KafkaConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}
}

func TestPublishSetsTopic(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, testConfig(), zerolog.Nop())

	if err := p.Publish(context.Background(), "alerts.alice", []byte(`{"text":"x"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.written) != 1 || w.written[0].Topic != "alerts.alice" || string(w.written[0].Value) != `{"text":"x"}` {
		t.Fatalf("written = %+v", w.written)
	}
	if s := p.Stats(); s.MessagesSent != 1 || s.MessagesFailed != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	w := &fakeWriter{failures: 2, err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, testConfig(), zerolog.Nop())

	if err := p.Publish(context.Background(), "t", []byte("1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.calls != 3 {
		t.Fatalf("calls = %d, want 3", w.calls)
	}
}

func TestPublishGivesUp(t *testing.T) {
	broker := errors.New("broker down")
	w := &fakeWriter{failures: 10, err: broker}
	p := NewProducerWithWriter(w, testConfig(), zerolog.Nop())

	err := p.Publish(context.Background(), "t", []byte("1"))
	if !errors.Is(err, broker) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if w.calls != 3 {
		t.Fatalf("calls = %d, want 3", w.calls)
	}
	if p.Stats().MessagesFailed != 1 {
		t.Fatalf("stats = %+v", p.Stats())
	}
}

func TestPublishContextErrorNotRetried(t *testing.T) {
	w := &fakeWriter{failures: 10, err: context.DeadlineExceeded}
	p := NewProducerWithWriter(w, testConfig(), zerolog.Nop())

	if err := p.Publish(context.Background(), "t", []byte("1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("calls = %d, want 1", w.calls)
	}
}

func TestPublishValidation(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, testConfig(), zerolog.Nop())

	if err := p.Publish(context.Background(), "", nil); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("empty topic err = %v", err)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close: %v closed=%v", err, w.closed)
	}
	if err := p.Publish(context.Background(), "t", nil); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("closed err = %v", err)
	}
	if _, err := NewProducer(config.KafkaConfig{}, zerolog.Nop()); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("NewProducer err = %v", err)
	}
}

func TestNewWriterFlushesEachMessage(t *testing.T) {
	w := newWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, WriteTimeout: time.Second})

	if w.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1", w.BatchSize)
	}
	if w.BatchTimeout <= 0 || w.BatchTimeout > 100*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want a short flush interval", w.BatchTimeout)
	}
	if w.Topic != "" {
		t.Errorf("writer Topic = %q, messages carry their own topic", w.Topic)
	}
}
