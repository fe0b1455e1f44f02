package evaluator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/types"
)

// Evaluator compares sensor readings against configured thresholds.
// It holds only read-only configuration and is safe for concurrent use.
type Evaluator struct {
	thresholds map[string]types.Threshold
}

// NewEvaluator creates a threshold evaluator from explicit thresholds
func NewEvaluator(thresholds ...types.Threshold) *Evaluator {
	m := make(map[string]types.Threshold, len(thresholds))
	for _, t := range thresholds {
		m[t.SensorID] = t
	}
	return &Evaluator{thresholds: m}
}

// FromConfig builds an evaluator from the sensors section.
// Sensors without a threshold are unbounded.
func FromConfig(cfg *config.Config) *Evaluator {
	var thresholds []types.Threshold
	for name, sensor := range cfg.Sensors.Sensors {
		if sensor.Threshold == nil {
			continue
		}
		thresholds = append(thresholds, types.Threshold{
			SensorID: name,
			Min:      sensor.Threshold.Min,
			Max:      sensor.Threshold.Max,
		})
	}
	return NewEvaluator(thresholds...)
}

// Threshold returns the bounds for a sensor; unknown sensors are unbounded
func (e *Evaluator) Threshold(sensorID string) types.Threshold {
	if t, ok := e.thresholds[sensorID]; ok {
		return t
	}
	return types.Threshold{SensorID: sensorID, Min: math.Inf(-1), Max: math.Inf(1)}
}

// Classify returns NORMAL for a reading inside [min,max] and ALERT otherwise
func (e *Evaluator) Classify(sensorID string, value float64) types.Status {
	if math.IsNaN(value) {
		return types.StatusError
	}
	t := e.Threshold(sensorID)
	if value < t.Min || value > t.Max {
		return types.StatusAlert
	}
	return types.StatusNormal
}

// Describe formats the alert text for a sensor that crossed its threshold.
// The timestamp keeps separate transitions distinct in the dedup window.
func (e *Evaluator) Describe(sensorID string, value float64, at time.Time) string {
	t := e.Threshold(sensorID)
	return fmt.Sprintf("%s ALERT %s: value %s outside [%s, %s] at %s",
		alertCode(sensorID), sensorID, formatValue(value), formatValue(t.Min), formatValue(t.Max),
		at.UTC().Format(time.RFC3339Nano))
}

// alertCode maps well-known sensor names to an alert prefix
func alertCode(sensorID string) string {
	id := normalizeState(sensorID)
	switch {
	case strings.Contains(id, "smoke"):
		return "FIRE"
	case strings.Contains(id, "water"), strings.Contains(id, "flood"):
		return "FLOOD"
	case strings.Contains(id, "motion"), strings.Contains(id, "door"), strings.Contains(id, "window"):
		return "INTRUSION"
	case strings.Contains(id, "temp"), strings.Contains(id, "humid"):
		return "ENVIRONMENT"
	default:
		return "SENSOR"
	}
}

func formatValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return fmt.Sprintf("%g", v)
}

// normalizeState normalizes identifiers to lowercase
func normalizeState(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
