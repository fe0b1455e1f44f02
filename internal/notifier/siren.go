package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pisafe/pisafe/internal/gpio"
	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownArea is returned when no relay is bound to an area
	ErrUnknownArea = errors.New("no siren for area")
	// ErrSirensStopped is returned after the controller has been stopped
	ErrSirensStopped = errors.New("siren controller stopped")
)

// Relay drives an audible siren
type Relay interface {
	Activate() error
	Deactivate() error
}

// Pulse holds the relay on for hold. The relay is deactivated when the
// hold expires, when ctx ends, or if the goroutine panics.
func Pulse(ctx context.Context, relay Relay, hold time.Duration) (err error) {
	if err := relay.Activate(); err != nil {
		return fmt.Errorf("activate relay: %w", err)
	}
	defer func() {
		if derr := relay.Deactivate(); derr != nil && err == nil {
			err = fmt.Errorf("deactivate relay: %w", derr)
		}
	}()
	return sustain(ctx, hold, nil, nil)
}

// sustain blocks while an activated relay is held. Each value on extend
// restarts the hold. When the hold lapses, lapse decides whether it
// really ends; a nil lapse always ends it. A nil extend never fires.
func sustain(ctx context.Context, hold time.Duration, extend <-chan struct{}, lapse func() bool) error {
	timer := time.NewTimer(hold)
	defer timer.Stop()

	for {
		select {
		case <-extend:
			timer.Reset(hold)
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if lapse == nil || lapse() {
				return nil
			}
			timer.Reset(hold)
		}
	}
}

type activeHold struct {
	cancel context.CancelFunc
	extend chan struct{}
}

// SirenController holds per-area relays asynchronously. Triggering an area
// that is already sounding extends its hold.
type SirenController struct {
	log     zerolog.Logger
	relays  map[string]Relay
	holdFor time.Duration
	mu      sync.Mutex
	active  map[string]*activeHold
	stopped bool
	wg      sync.WaitGroup
}

// NewSirenController creates a new siren controller
func NewSirenController(log zerolog.Logger, relays map[string]Relay, hold time.Duration) *SirenController {
	return &SirenController{
		log:     log.With().Str("component", "sirens").Logger(),
		relays:  relays,
		holdFor: hold,
		active:  make(map[string]*activeHold),
	}
}

// Has reports whether an area has a relay
func (s *SirenController) Has(area string) bool {
	_, ok := s.relays[area]
	return ok
}

// Active returns the number of relays currently held on
func (s *SirenController) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Trigger sounds the siren for an area
func (s *SirenController) Trigger(area string) error {
	relay, ok := s.relays[area]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownArea, area)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSirensStopped
	}
	if h, ok := s.active[area]; ok {
		select {
		case h.extend <- struct{}{}:
		default:
		}
		s.log.Debug().Str("area", area).Msg("siren hold extended")
		return nil
	}

	if err := relay.Activate(); err != nil {
		return fmt.Errorf("activate relay %s: %w", area, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &activeHold{cancel: cancel, extend: make(chan struct{}, 1)}
	s.active[area] = h
	metrics.SirensActive.Inc()

	s.log.Info().Str("area", area).Dur("hold", s.holdFor).Msg("siren activated")

	s.wg.Add(1)
	go s.hold(ctx, area, relay, h)
	return nil
}

// hold keeps a relay on until the hold expires or the controller stops.
// The relay is released on every exit path, including a panic.
func (s *SirenController) hold(ctx context.Context, area string, relay Relay, h *activeHold) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("area", area).Msg("siren hold panic recovered")
			metrics.PanicsRecovered.WithLabelValues("siren").Inc()
		}
		s.mu.Lock()
		s.release(area, relay, h)
		s.mu.Unlock()
	}()

	sustain(ctx, s.holdFor, h.extend, func() bool {
		// A trigger may have raced with expiry; it sends under the lock
		s.mu.Lock()
		defer s.mu.Unlock()
		select {
		case <-h.extend:
			return false
		default:
		}
		s.release(area, relay, h)
		return true
	})
}

// release deactivates the relay if h still owns the area. Must be called
// with mu held so a new Trigger cannot activate the relay in between.
func (s *SirenController) release(area string, relay Relay, h *activeHold) {
	if s.active[area] != h {
		return
	}
	delete(s.active, area)
	h.cancel()
	metrics.SirensActive.Dec()

	if err := relay.Deactivate(); err != nil {
		s.log.Error().Err(err).Str("area", area).Msg("failed to deactivate siren")
		return
	}
	s.log.Info().Str("area", area).Msg("siren deactivated")
}

// Stop releases every relay and waits for them to be deactivated
func (s *SirenController) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, h := range s.active {
		h.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("all sirens released")
}

// SirenChannel sounds the sirens covering an alert
type SirenChannel struct {
	sirens *SirenController
}

// NewSirenChannel creates a new siren channel
func NewSirenChannel(sirens *SirenController) *SirenChannel {
	return &SirenChannel{sirens: sirens}
}

// Name implements Channel
func (c *SirenChannel) Name() string { return "siren" }

// Deliver triggers the alert's area, or every area of the resolved
// recipients when the alert has none. Areas without a relay are skipped.
func (c *SirenChannel) Deliver(ctx context.Context, d Delivery) (int, int, error) {
	areas := []string{d.Area}
	if d.Area == "" {
		areas = areasOf(d.Recipients)
	}

	targets, delivered := 0, 0
	var errs []error
	for _, area := range areas {
		if !c.sirens.Has(area) {
			continue
		}
		targets++
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.sirens.Trigger(area); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if len(errs) > 0 {
		return targets, delivered, &ChannelError{Channel: c.Name(), Failed: len(errs), Err: errors.Join(errs...)}
	}
	return targets, delivered, nil
}

// GPIORelay drives a relay on a GPIO output pin
type GPIORelay struct {
	driver gpio.Driver
	pin    int
}

// NewGPIORelay creates a new GPIO relay
func NewGPIORelay(driver gpio.Driver, pin int) *GPIORelay {
	return &GPIORelay{driver: driver, pin: pin}
}

// Activate implements Relay
func (r *GPIORelay) Activate() error { return r.driver.DigitalWrite(r.pin, 1) }

// Deactivate implements Relay
func (r *GPIORelay) Deactivate() error { return r.driver.DigitalWrite(r.pin, 0) }

// LogRelay is a simulated relay that only logs and tracks its state
type LogRelay struct {
	log zerolog.Logger
	on  atomic.Bool
}

// NewLogRelay creates a new simulated relay
func NewLogRelay(log zerolog.Logger, area string) *LogRelay {
	return &LogRelay{log: log.With().Str("component", "relay").Str("area", area).Logger()}
}

// Activate implements Relay
func (r *LogRelay) Activate() error {
	r.on.Store(true)
	r.log.Info().Msg("relay on (simulated)")
	return nil
}

// Deactivate implements Relay
func (r *LogRelay) Deactivate() error {
	r.on.Store(false)
	r.log.Info().Msg("relay off (simulated)")
	return nil
}

// On reports the relay state
func (r *LogRelay) On() bool {
	return r.on.Load()
}
