package collector

import (
	"context"
	"fmt"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/gpio"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

// Router dispatches each read to the reader that owns the sensor
type Router struct {
	readers map[string]Reader
	gnmi    *GNMIReader
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{readers: make(map[string]Reader)}
}

// Route assigns a sensor to a reader
func (r *Router) Route(sensorID string, reader Reader) {
	r.readers[sensorID] = reader
}

// Read implements Reader
func (r *Router) Read(ctx context.Context, sensorID string) (float64, error) {
	reader, ok := r.readers[sensorID]
	if !ok {
		return 0, fault(sensorID, ErrUnknownSensor)
	}
	return reader.Read(ctx, sensorID)
}

// Close releases the gNMI connection if one was opened
func (r *Router) Close() error {
	if r.gnmi != nil {
		return r.gnmi.Close()
	}
	return nil
}

// FromConfig builds the readers for every configured sensor
func FromConfig(cfg *config.Config, driver gpio.Driver, logger zerolog.Logger) (*Router, error) {
	router := NewRouter()
	pins := make(map[string]Pin)
	gnmiPaths := make(map[string]string)
	sim := NewSimulatedReader()

	for name, sensor := range cfg.Sensors.Sensors {
		switch sensor.Reader {
		case "gpio":
			pins[name] = Pin{Number: sensor.Pin, Kind: types.Kind(sensor.Kind)}
		case "gnmi":
			gnmiPaths[name] = sensor.Path
		case "simulated":
			sim.Script(name, sensor.Values...)
			router.Route(name, sim)
		default:
			return nil, fmt.Errorf("sensor %s: unknown reader %q", name, sensor.Reader)
		}
	}

	if len(pins) > 0 {
		if driver == nil {
			return nil, fmt.Errorf("gpio sensors configured but no gpio driver available")
		}
		hw := NewHardwareReader(driver, pins)
		for name := range pins {
			router.Route(name, hw)
		}
	}

	if len(gnmiPaths) > 0 {
		g, err := NewGNMIReader(cfg.Sensors.GNMI, gnmiPaths, logger)
		if err != nil {
			return nil, err
		}
		router.gnmi = g
		for name := range gnmiPaths {
			router.Route(name, g)
		}
	}

	logger.Info().
		Int("gpio", len(pins)).
		Int("gnmi", len(gnmiPaths)).
		Int("total", len(router.readers)).
		Msg("Sensor readers configured")

	return router, nil
}
