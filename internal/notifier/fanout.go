// Package notifier delivers validated alerts over SMS, live push and sirens.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

// ErrTimeout is reported for a channel that did not finish in time
var ErrTimeout = errors.New("TIMEOUT")

// ChannelError aggregates per-target failures of one channel
type ChannelError struct {
	Channel string
	Failed  int
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %d target(s) failed: %v", e.Channel, e.Failed, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Delivery is what a channel is asked to deliver
type Delivery struct {
	AlertID    string
	Text       string
	Area       string
	Recipients []Recipient
}

// Channel delivers one alert to its targets. It reports how many targets
// it addressed and how many succeeded.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) (targets int, delivered int, err error)
}

// Fanout dispatches every alert to all channels concurrently
type Fanout struct {
	directory *Directory
	channels  []Channel
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewFanout creates a new fanout
func NewFanout(directory *Directory, timeout time.Duration, logger zerolog.Logger, channels ...Channel) *Fanout {
	return &Fanout{
		directory: directory,
		channels:  channels,
		timeout:   timeout,
		logger:    logger.With().Str("component", "fanout").Logger(),
	}
}

// Channels returns the configured channel names
func (f *Fanout) Channels() []string {
	names := make([]string, len(f.channels))
	for i, ch := range f.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch delivers text on every channel, each in its own goroutine with
// its own timeout. The report holds exactly one entry per channel. Failed
// channels are not retried.
func (f *Fanout) Dispatch(ctx context.Context, alertID, text, area string) types.DispatchReport {
	report := types.DispatchReport{
		AlertID:   alertID,
		Channels:  make(map[string]types.ChannelResult, len(f.channels)),
		StartedAt: time.Now(),
	}
	d := Delivery{
		AlertID:    alertID,
		Text:       text,
		Area:       area,
		Recipients: f.directory.Resolve(area),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ch := range f.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			res := f.run(ctx, ch, d)
			mu.Lock()
			report.Channels[ch.Name()] = res
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	report.FinishedAt = time.Now()

	if len(d.Recipients) == 0 {
		f.logger.Warn().Str("alert_id", alertID).Str("area", area).Msg("No recipients for area")
	}
	return report
}

// run executes one channel, bounded by the channel timeout
func (f *Fanout) run(ctx context.Context, ch Channel, d Delivery) types.ChannelResult {
	start := time.Now()
	chCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type outcome struct {
		targets, delivered int
		err                error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("channel", ch.Name()).
					Msg("channel panic recovered")
				metrics.PanicsRecovered.WithLabelValues("channel_" + ch.Name()).Inc()
				done <- outcome{err: fmt.Errorf("channel panic: %v", r)}
			}
		}()
		t, n, err := ch.Deliver(chCtx, d)
		done <- outcome{t, n, err}
	}()

	var res types.ChannelResult
	var status string
	select {
	case o := <-done:
		res = types.ChannelResult{OK: o.err == nil, Targets: o.targets, Delivered: o.delivered}
		status = "success"
		if o.err != nil {
			res.Error = o.err.Error()
			status = "failed"
			if errors.Is(o.err, context.DeadlineExceeded) && chCtx.Err() != nil {
				res.Error = ErrTimeout.Error()
				status = "timeout"
			}
		}
	case <-chCtx.Done():
		res = types.ChannelResult{OK: false, Error: ErrTimeout.Error()}
		status = "timeout"
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			status = "failed"
		}
	}
	res.Duration = time.Since(start)

	metrics.ChannelDispatchTotal.WithLabelValues(ch.Name(), status).Inc()
	metrics.ChannelDispatchDuration.WithLabelValues(ch.Name()).Observe(res.Duration.Seconds())

	ev := f.logger.Info()
	if !res.OK {
		ev = f.logger.Error().Str("error", res.Error)
	}
	ev.Str("channel", ch.Name()).
		Str("alert_id", d.AlertID).
		Int("targets", res.Targets).
		Int("delivered", res.Delivered).
		Dur("duration", res.Duration).
		Msg("Channel dispatch finished")

	return res
}
