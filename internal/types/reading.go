package types

import "time"

// Status is the classification of a sensor reading
type Status string

const (
	StatusNormal Status = "NORMAL"
	StatusAlert  Status = "ALERT"
	StatusError  Status = "ERROR"
)

// Kind describes how a sensor is sampled
type Kind string

const (
	KindDigital Kind = "digital"
	KindAnalog  Kind = "analog"
)

// SensorReading is produced once per tick per sensor and superseded, never mutated
type SensorReading struct {
	SensorID  string    `json:"sensor_id"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// Threshold bounds a sensor's acceptable range, inclusive
type Threshold struct {
	SensorID string  `json:"sensor_id"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// SystemHealthSnapshot is computed on demand and never persisted
type SystemHealthSnapshot struct {
	CPUTemp        float64           `json:"cpu_temp"`
	Voltage        float64           `json:"voltage"`
	BackupPowerOK  bool              `json:"backup_power_ok"`
	SensorStatuses map[string]Status `json:"sensor_statuses"`
	CollectedAt    time.Time         `json:"collected_at"`
	Unavailable    []string          `json:"unavailable,omitempty"`
}
