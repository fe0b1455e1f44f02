// Package monitor runs the periodic sensor sampling loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pisafe/pisafe/internal/collector"
	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

const (
	restartBackoffMin = time.Second
	restartBackoffMax = 60 * time.Second
)

// ErrAlreadyRunning is returned by Start when the loop is active
var ErrAlreadyRunning = errors.New("monitor already running")

// Policy classifies readings and describes threshold violations
type Policy interface {
	Classify(sensorID string, value float64) types.Status
	Describe(sensorID string, value float64, at time.Time) string
}

// Submitter accepts alert events; the alert pipeline implements it
type Submitter interface {
	Submit(ctx context.Context, ev types.AlertEvent) types.PipelineResult
}

type sensor struct {
	id   string
	kind types.Kind
	area string
}

// Monitor samples every configured sensor once per interval
type Monitor struct {
	sensors          []sensor
	reader           collector.Reader
	policy           Policy
	submitter        Submitter
	logger           zerolog.Logger
	interval         time.Duration
	readTimeout      time.Duration
	failureThreshold int

	snapshot atomic.Pointer[map[string]types.SensorReading]

	// owned by the sampling goroutine
	failures map[string]int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new monitor
func New(cfg *config.Config, reader collector.Reader, policy Policy, submitter Submitter, logger zerolog.Logger) *Monitor {
	sensors := make([]sensor, 0, len(cfg.Sensors.Sensors))
	for id, s := range cfg.Sensors.Sensors {
		sensors = append(sensors, sensor{id: id, kind: types.Kind(s.Kind), area: s.Area})
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].id < sensors[j].id })

	g := cfg.Sensors.Global
	m := &Monitor{
		sensors:          sensors,
		reader:           reader,
		policy:           policy,
		submitter:        submitter,
		logger:           logger.With().Str("component", "monitor").Logger(),
		interval:         g.CheckInterval,
		readTimeout:      g.ReadTimeout,
		failureThreshold: g.FailureThreshold,
		failures:         make(map[string]int),
	}
	if m.interval <= 0 {
		m.interval = config.DefaultCheckInterval
	}
	if m.readTimeout <= 0 {
		m.readTimeout = config.DefaultReadTimeout
	}
	if m.failureThreshold <= 0 {
		m.failureThreshold = config.DefaultFailureThreshold
	}
	empty := make(map[string]types.SensorReading)
	m.snapshot.Store(&empty)
	return m
}

// Start launches the sampling loop
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info().
		Int("sensors", len(m.sensors)).
		Dur("interval", m.interval).
		Msg("Sensor monitor started")

	go m.supervise(runCtx, m.done)
	return nil
}

// Stop ends the loop and waits for the in-flight tick to complete.
// It is idempotent and safe to call from any goroutine other than the
// sampling goroutine itself.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Snapshot returns a copy of the last reading of every sensor. It never
// blocks the sampling loop.
func (m *Monitor) Snapshot() map[string]types.SensorReading {
	return maps.Clone(*m.snapshot.Load())
}

// supervise restarts the loop after a panic with exponential backoff.
// On exit it clears the running state, whether Stop or the parent
// context ended the loop, so the monitor can be started again.
func (m *Monitor) supervise(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.cancel()
			m.done = nil
			m.cancel = nil
		}
		m.mu.Unlock()
		close(done)
		m.logger.Info().Msg("Sensor monitor stopped")
	}()

	attempt := 0
	for {
		started := time.Now()
		err := m.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > restartBackoffMax {
			attempt = 0
		}
		attempt++
		backoff := backoffDuration(attempt)
		metrics.MonitorRestarts.Inc()

		m.logger.Error().
			Err(err).
			Dur("backoff", backoff).
			Int("attempt", attempt).
			Msg("Sensor monitor loop failed, restarting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// run samples immediately and then once per interval until ctx ends
func (m *Monitor) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("monitor panic recovered")
			metrics.PanicsRecovered.WithLabelValues("monitor").Inc()
			err = fmt.Errorf("monitor loop panic: %v", r)
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick samples every sensor once. It runs detached from cancellation so a
// stop request never interrupts it halfway.
func (m *Monitor) tick(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	prev := *m.snapshot.Load()
	next := make(map[string]types.SensorReading, len(m.sensors))
	var events []types.AlertEvent

	for _, s := range m.sensors {
		reading, ev := m.sample(ctx, s, prev[s.id])
		next[s.id] = reading
		if ev != nil {
			events = append(events, *ev)
		}
	}
	m.snapshot.Store(&next)
	metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())

	for _, ev := range events {
		res := m.submitter.Submit(ctx, ev)
		m.logger.Info().
			Str("alert_id", ev.ID).
			Str("sensor", ev.SensorID).
			Str("state", string(res.State)).
			Str("reason", res.Reason).
			Msg("Sensor alert submitted")
	}
}

// sample reads one sensor and decides whether the transition emits an event
func (m *Monitor) sample(ctx context.Context, s sensor, prev types.SensorReading) (types.SensorReading, *types.AlertEvent) {
	readCtx, cancel := context.WithTimeout(ctx, m.readTimeout)
	value, err := m.reader.Read(readCtx, s.id)
	cancel()

	now := time.Now()
	reading := types.SensorReading{SensorID: s.id, Kind: s.kind, Value: value, Timestamp: now}

	if err == nil {
		reading.Status = m.policy.Classify(s.id, value)
		if reading.Status == types.StatusError {
			err = fmt.Errorf("invalid reading %v", value)
		}
	}

	if err != nil {
		reading.Status = types.StatusError
		reading.Value = 0
		reading.Error = err.Error()
		metrics.SensorReadsTotal.WithLabelValues(s.id, string(types.StatusError)).Inc()

		m.failures[s.id]++
		n := m.failures[s.id]
		m.logger.Warn().Err(err).Str("sensor", s.id).Int("consecutive", n).Msg("Sensor read failed")
		if n != m.failureThreshold {
			return reading, nil
		}
		text := fmt.Sprintf("SENSOR FAULT %s: %d consecutive read failures at %s: %v",
			s.id, n, now.UTC().Format(time.RFC3339Nano), err)
		return reading, m.event(s, text, now)
	}

	m.failures[s.id] = 0
	metrics.SensorReadsTotal.WithLabelValues(s.id, string(reading.Status)).Inc()
	metrics.SensorValue.WithLabelValues(s.id).Set(value)

	if reading.Status != types.StatusAlert || prev.Status == types.StatusAlert {
		return reading, nil
	}

	m.logger.Warn().
		Str("sensor", s.id).
		Float64("value", value).
		Str("previous", string(prev.Status)).
		Msg("Sensor entered alert state")
	return reading, m.event(s, m.policy.Describe(s.id, value, now), now)
}

func (m *Monitor) event(s sensor, text string, at time.Time) *types.AlertEvent {
	return &types.AlertEvent{
		ID:         uuid.NewString(),
		RawPayload: text,
		Source:     types.SourceSensor,
		SensorID:   s.id,
		Area:       s.area,
		CreatedAt:  at,
	}
}

// backoffDuration calculates exponential backoff with jitter
func backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return restartBackoffMin
	}
	backoff := restartBackoffMin << (attempt - 1)
	if backoff > restartBackoffMax || backoff <= 0 {
		backoff = restartBackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(restartBackoffMin)))
	return backoff + jitter
}
