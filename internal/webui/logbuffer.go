// Package webui holds the in-process state shown by the operator console.
package webui

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEntry is one captured zerolog line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogBuffer is a thread-safe ring buffer for log entries
type LogBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
	now     func() time.Time
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
		now:     time.Now,
	}
}

// Write implements io.Writer. zerolog writes exactly one JSON event per call.
func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	entry := parseEntry(p)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = lb.now()
	}
	lb.entries[lb.head] = entry
	lb.head = (lb.head + 1) % lb.size
	if lb.count < lb.size {
		lb.count++
	}

	return len(p), nil
}

// Entries returns all log entries in chronological order
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, lb.count)
	start := 0
	if lb.count == lb.size {
		start = lb.head
	}
	for i := 0; i < lb.count; i++ {
		result[i] = lb.entries[(start+i)%lb.size]
	}
	return result
}

// Recent returns the most recent n entries, optionally limited to one
// component and a minimum level
func (lb *LogBuffer) Recent(n int, component, minLevel string) []LogEntry {
	entries := lb.Entries()
	floor := levelRank(minLevel)

	filtered := entries[:0]
	for _, e := range entries {
		if component != "" && e.Component != component {
			continue
		}
		if levelRank(e.Level) < floor {
			continue
		}
		filtered = append(filtered, e)
	}
	if n > 0 && len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

// Clear clears all log entries
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.head = 0
	lb.count = 0
}

type zerologLine struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

func parseEntry(p []byte) LogEntry {
	raw := strings.TrimRight(string(p), "\n")
	entry := LogEntry{Level: "info", Message: raw, Raw: raw}

	var line zerologLine
	if err := json.Unmarshal(p, &line); err != nil {
		return entry
	}
	if line.Level != "" {
		entry.Level = line.Level
	}
	if line.Message != "" {
		entry.Message = line.Message
	}
	entry.Component = line.Component
	entry.Timestamp = line.Time
	return entry
}

func levelRank(level string) int {
	switch level {
	case "trace":
		return -1
	case "", "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	case "fatal", "panic":
		return 4
	}
	return 1
}
