package collector

import (
	"context"
	"sync"

	"github.com/pisafe/pisafe/internal/gpio"
	"github.com/pisafe/pisafe/internal/types"
)

// Pin binds a sensor to a GPIO pin or ADC channel
type Pin struct {
	Number int
	Kind   types.Kind
}

// HardwareReader reads sensors wired to the local GPIO header
type HardwareReader struct {
	driver gpio.Driver
	pins   map[string]Pin

	mu   sync.Mutex
	busy map[Pin]bool
}

// NewHardwareReader creates a new hardware reader
func NewHardwareReader(driver gpio.Driver, pins map[string]Pin) *HardwareReader {
	return &HardwareReader{driver: driver, pins: pins, busy: make(map[Pin]bool)}
}

// Read samples a pin. Digital pins report 0 or 1. A driver call that
// outlives ctx keeps the pin busy until it returns; reads of a busy pin
// fail with ErrReadInFlight rather than stacking blocked goroutines.
func (h *HardwareReader) Read(ctx context.Context, sensorID string) (float64, error) {
	pin, ok := h.pins[sensorID]
	if !ok {
		return 0, fault(sensorID, ErrUnknownSensor)
	}

	type result struct {
		v   float64
		err error
	}
	h.mu.Lock()
	if h.busy[pin] {
		h.mu.Unlock()
		return 0, fault(sensorID, ErrReadInFlight)
	}
	h.busy[pin] = true
	h.mu.Unlock()

	done := make(chan result, 1)
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.busy, pin)
			h.mu.Unlock()
		}()
		if pin.Kind == types.KindAnalog {
			v, err := h.driver.AnalogRead(pin.Number)
			done <- result{v, err}
			return
		}
		v, err := h.driver.DigitalRead(pin.Number)
		done <- result{float64(v), err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, fault(sensorID, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		return 0, fault(sensorID, ctx.Err())
	}
}
