// Package audit records dispatched alerts. Entries carry ciphertext only.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

// Sink is an append-only audit destination
type Sink interface {
	Name() string
	Record(ctx context.Context, entry types.AuditEntry) error
}

// Multi records to every sink and reports all failures
type Multi struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewMulti creates a new fan-in sink
func NewMulti(logger zerolog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger.With().Str("component", "audit").Logger()}
}

// Record writes the entry to every sink; one failure does not skip the rest
func (m *Multi) Record(ctx context.Context, entry types.AuditEntry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, entry); err != nil {
			metrics.AuditWritesTotal.WithLabelValues(s.Name(), "failed").Inc()
			m.logger.Error().Err(err).Str("sink", s.Name()).Str("alert_id", entry.AlertID).Msg("Audit write failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.AuditWritesTotal.WithLabelValues(s.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

// MemorySink keeps the most recent entries in a ring
type MemorySink struct {
	mu      sync.RWMutex
	entries []types.AuditEntry
	next    int
	full    bool
}

// NewMemorySink creates a ring holding size entries
func NewMemorySink(size int) *MemorySink {
	if size <= 0 {
		size = 1
	}
	return &MemorySink{entries: make([]types.AuditEntry, size)}
}

// Name implements Sink
func (m *MemorySink) Name() string { return "memory" }

// Record implements Sink
func (m *MemorySink) Record(_ context.Context, entry types.AuditEntry) error {
	entry.DecodedText = ""
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to n entries, newest first
func (m *MemorySink) Recent(n int) []types.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.next
	if m.full {
		count = len(m.entries)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]types.AuditEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.entries)) % len(m.entries)
		out = append(out, m.entries[idx])
	}
	return out
}

// Len returns the number of stored entries
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.entries)
	}
	return m.next
}

// LogSink writes one structured log line per entry
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a new log sink
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

// Name implements Sink
func (l *LogSink) Name() string { return "log" }

// Record implements Sink
func (l *LogSink) Record(_ context.Context, entry types.AuditEntry) error {
	l.logger.Info().
		Str("alert_id", entry.AlertID).
		Str("source", string(entry.Source)).
		Str("area", entry.Area).
		Int("ciphertext_bytes", len(entry.Encrypted.Ciphertext)).
		Strs("failed_channels", entry.Report.Failed()).
		Time("timestamp", entry.Timestamp).
		Msg("Alert audited")
	return nil
}
