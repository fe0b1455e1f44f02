package collector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownSensor is returned when no reader owns a sensor id
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrHubUnavailable is returned while the gNMI hub is backing off
	ErrHubUnavailable = errors.New("sensor hub unavailable")
	// ErrReadInFlight is returned while an earlier read of the same pin
	// is still blocked in the driver
	ErrReadInFlight = errors.New("previous read still in flight")
)

// Reader samples the current raw value of a sensor
type Reader interface {
	Read(ctx context.Context, sensorID string) (float64, error)
}

// HardwareFault is returned for any read failure: timeout, bus error,
// unknown sensor or an unreachable hub
type HardwareFault struct {
	SensorID string
	Err      error
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("hardware fault on %s: %v", e.SensorID, e.Err)
}

func (e *HardwareFault) Unwrap() error {
	return e.Err
}

func fault(sensorID string, err error) error {
	var hf *HardwareFault
	if errors.As(err, &hf) {
		return err
	}
	return &HardwareFault{SensorID: sensorID, Err: err}
}
