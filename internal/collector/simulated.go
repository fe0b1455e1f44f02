package collector

import (
	"context"
	"sync"
)

// Step is one scripted sample; a non-nil Err makes the read fail
type Step struct {
	Value float64
	Err   error
}

// SimulatedReader replays scripted values per sensor. Once a script is
// exhausted the last step repeats.
type SimulatedReader struct {
	mu      sync.Mutex
	scripts map[string][]Step
	pos     map[string]int
}

// NewSimulatedReader creates an empty simulated reader
func NewSimulatedReader() *SimulatedReader {
	return &SimulatedReader{
		scripts: make(map[string][]Step),
		pos:     make(map[string]int),
	}
}

// Script replaces a sensor's script with plain values
func (s *SimulatedReader) Script(sensorID string, values ...float64) {
	steps := make([]Step, len(values))
	for i, v := range values {
		steps[i] = Step{Value: v}
	}
	s.ScriptSteps(sensorID, steps...)
}

// ScriptSteps replaces a sensor's script
func (s *SimulatedReader) ScriptSteps(sensorID string, steps ...Step) {
	if len(steps) == 0 {
		steps = []Step{{}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sensorID] = steps
	s.pos[sensorID] = 0
}

// Read returns the next scripted value
func (s *SimulatedReader) Read(ctx context.Context, sensorID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fault(sensorID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	script, ok := s.scripts[sensorID]
	if !ok {
		return 0, fault(sensorID, ErrUnknownSensor)
	}
	i := s.pos[sensorID]
	if i < len(script)-1 {
		s.pos[sensorID] = i + 1
	}
	step := script[i]
	if step.Err != nil {
		return 0, fault(sensorID, step.Err)
	}
	return step.Value, nil
}
