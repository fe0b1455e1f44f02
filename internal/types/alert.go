package types

import (
	"sort"
	"time"
)

// Source identifies where an alert entered the pipeline
type Source string

const (
	SourceSensor   Source = "sensor"
	SourceExternal Source = "external"
)

// AlertEvent is a single alert travelling through the pipeline.
// It is created once and never mutated after submission.
type AlertEvent struct {
	ID          string    `json:"id"`
	RawPayload  string    `json:"raw_payload"`
	DecodedText string    `json:"decoded_text"`
	Source      Source    `json:"source"`
	SensorID    string    `json:"sensor_id,omitempty"`
	Area        string    `json:"area,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EncryptedAlert is the sealed form of an alert's decoded text
type EncryptedAlert struct {
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlertState is a pipeline state for one alert
type AlertState string

const (
	StateReceived    AlertState = "RECEIVED"
	StateValidating  AlertState = "VALIDATING"
	StateRejected    AlertState = "REJECTED"
	StateValidated   AlertState = "VALIDATED"
	StateEncrypting  AlertState = "ENCRYPTING"
	StateDispatching AlertState = "DISPATCHING"
	StateLogged      AlertState = "LOGGED"
	StateFailed      AlertState = "FAILED"
)

// Terminal reports whether no further transition is possible
func (s AlertState) Terminal() bool {
	return s == StateRejected || s == StateLogged || s == StateFailed
}

// ChannelResult is the outcome of one channel for one alert
type ChannelResult struct {
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Targets   int           `json:"targets"`
	Delivered int           `json:"delivered"`
	Duration  time.Duration `json:"duration"`
}

// DispatchReport records per-channel success or failure for one delivery attempt
type DispatchReport struct {
	AlertID    string                   `json:"alert_id"`
	Channels   map[string]ChannelResult `json:"channels"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Failed returns the names of channels that did not succeed, sorted
func (r DispatchReport) Failed() []string {
	var failed []string
	for name, res := range r.Channels {
		if !res.OK {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// PipelineResult is returned by the pipeline for every submission
type PipelineResult struct {
	AlertID     string          `json:"alert_id"`
	State       AlertState      `json:"state"`
	Reason      string          `json:"reason,omitempty"`
	DecodedText string          `json:"decoded_text,omitempty"`
	Report      *DispatchReport `json:"report,omitempty"`
	Err         error           `json:"-"`
}

// AuditEntry is appended once per dispatched alert
type AuditEntry struct {
	AlertID     string         `json:"alert_id"`
	DecodedText string         `json:"decoded_text,omitempty"`
	Encrypted   EncryptedAlert `json:"encrypted"`
	Source      Source         `json:"source"`
	Area        string         `json:"area,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Report      DispatchReport `json:"report"`
}
