// Package gpio is a minimal sysfs GPIO/IIO driver used by the hardware
// sensor reader and the siren relay.
package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Driver is the capability the sensor and relay components call
type Driver interface {
	DigitalRead(pin int) (int, error)
	AnalogRead(channel int) (float64, error)
	DigitalWrite(pin int, value int) error
}

// ErrInvalidValue is returned when a pin reports something other than 0/1
var ErrInvalidValue = errors.New("gpio: invalid pin value")

// Sysfs drives pins through /sys/class/gpio and reads ADC channels
// through the industrial I/O subsystem
type Sysfs struct {
	gpioRoot string
	iioRoot  string

	mu       sync.Mutex
	exported map[int]string
}

// NewSysfs creates a driver rooted at the standard sysfs locations
func NewSysfs() *Sysfs {
	return NewSysfsAt("/sys/class/gpio", "/sys/bus/iio/devices/iio:device0")
}

// NewSysfsAt creates a driver with custom roots
func NewSysfsAt(gpioRoot, iioRoot string) *Sysfs {
	return &Sysfs{
		gpioRoot: gpioRoot,
		iioRoot:  iioRoot,
		exported: make(map[int]string),
	}
}

// DigitalRead returns 0 or 1
func (s *Sysfs) DigitalRead(pin int) (int, error) {
	if err := s.export(pin, "in"); err != nil {
		return 0, err
	}
	raw, err := os.ReadFile(s.pinFile(pin, "value"))
	if err != nil {
		return 0, fmt.Errorf("read gpio%d: %w", pin, err)
	}
	switch strings.TrimSpace(string(raw)) {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("gpio%d: %w: %q", pin, ErrInvalidValue, raw)
	}
}

// AnalogRead returns the scaled value of an IIO voltage channel
func (s *Sysfs) AnalogRead(channel int) (float64, error) {
	raw, err := readFloat(filepath.Join(s.iioRoot, fmt.Sprintf("in_voltage%d_raw", channel)))
	if err != nil {
		return 0, fmt.Errorf("read adc channel %d: %w", channel, err)
	}
	scale, err := readFloat(filepath.Join(s.iioRoot, "in_voltage_scale"))
	if err != nil {
		// Unscaled devices report the raw count
		return raw, nil
	}
	return raw * scale, nil
}

// DigitalWrite drives an output pin
func (s *Sysfs) DigitalWrite(pin int, value int) error {
	if err := s.export(pin, "out"); err != nil {
		return err
	}
	v := "0"
	if value != 0 {
		v = "1"
	}
	if err := os.WriteFile(s.pinFile(pin, "value"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("write gpio%d: %w", pin, err)
	}
	return nil
}

// export makes a pin available with the given direction once
func (s *Sysfs) export(pin int, direction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exported[pin] == direction {
		return nil
	}
	if _, err := os.Stat(filepath.Join(s.gpioRoot, fmt.Sprintf("gpio%d", pin))); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(s.gpioRoot, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return fmt.Errorf("export gpio%d: %w", pin, err)
		}
	}
	if err := os.WriteFile(s.pinFile(pin, "direction"), []byte(direction), 0o644); err != nil {
		return fmt.Errorf("set gpio%d direction: %w", pin, err)
	}
	s.exported[pin] = direction
	return nil
}

func (s *Sysfs) pinFile(pin int, name string) string {
	return filepath.Join(s.gpioRoot, fmt.Sprintf("gpio%d", pin), name)
}

func readFloat(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
}
