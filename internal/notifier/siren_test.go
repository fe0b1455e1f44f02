package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingRelay struct {
	mu          sync.Mutex
	on          bool
	activations int
	failOn      bool
}

func (r *countingRelay) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn {
		return errors.New("relay stuck")
	}
	r.on = true
	r.activations++
	return nil
}

func (r *countingRelay) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = false
	return nil
}

func (r *countingRelay) isOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPulseFullHold(t *testing.T) {
	r := &countingRelay{}
	if err := Pulse(context.Background(), r, 20*time.Millisecond); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if r.isOn() || r.activations != 1 {
		t.Fatalf("relay on=%v activations=%d", r.isOn(), r.activations)
	}
}

func TestPulseInterruptedStillDeactivates(t *testing.T) {
	r := &countingRelay{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pulse(ctx, r, time.Hour) }()

	waitFor(t, time.Second, r.isOn)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Pulse err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pulse did not return after cancel")
	}
	if r.isOn() {
		t.Fatal("relay left on after interrupted hold")
	}
}

func TestPulseActivateFailure(t *testing.T) {
	r := &countingRelay{failOn: true}
	if err := Pulse(context.Background(), r, time.Millisecond); err == nil {
		t.Fatal("expected activation error")
	}
}

func TestSirenControllerHoldAndExtend(t *testing.T) {
	r := &countingRelay{}
	s := NewSirenController(zerolog.Nop(), map[string]Relay{"front": r}, 80*time.Millisecond)
	defer s.Stop()

	if err := s.Trigger("front"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !r.isOn() || s.Active() != 1 {
		t.Fatal("relay should be on")
	}

	time.Sleep(50 * time.Millisecond)
	if err := s.Trigger("front"); err != nil {
		t.Fatalf("re-Trigger: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if !r.isOn() {
		t.Fatal("re-trigger should have extended the hold")
	}
	if r.activations != 1 {
		t.Fatalf("extension must not re-activate, activations=%d", r.activations)
	}

	waitFor(t, time.Second, func() bool { return !r.isOn() })
	waitFor(t, time.Second, func() bool { return s.Active() == 0 })

	if err := s.Trigger("attic"); !errors.Is(err, ErrUnknownArea) {
		t.Fatalf("unknown area err = %v", err)
	}
}

func TestSirenControllerStopReleases(t *testing.T) {
	front, back := &countingRelay{}, &countingRelay{}
	s := NewSirenController(zerolog.Nop(), map[string]Relay{"front": front, "back": back}, time.Hour)

	s.Trigger("front")
	s.Trigger("back")

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if front.isOn() || back.isOn() {
		t.Fatal("Stop must release every relay")
	}
	if err := s.Trigger("front"); !errors.Is(err, ErrSirensStopped) {
		t.Fatalf("trigger after stop = %v", err)
	}
}

func TestSirenChannelAreas(t *testing.T) {
	front, garage, basement := &countingRelay{}, &countingRelay{}, &countingRelay{}
	s := NewSirenController(zerolog.Nop(), map[string]Relay{
		"front": front, "garage": garage, "basement": basement,
	}, time.Hour)
	defer s.Stop()
	ch := NewSirenChannel(s)
	dir := testDirectory()

	targets, delivered, err := ch.Deliver(context.Background(), Delivery{Area: "basement", Recipients: dir.Resolve("basement")})
	if err != nil || targets != 1 || delivered != 1 || !basement.isOn() || front.isOn() {
		t.Fatalf("area alert: targets=%d delivered=%d err=%v", targets, delivered, err)
	}

	targets, delivered, err = ch.Deliver(context.Background(), Delivery{Recipients: dir.Resolve("")})
	if err != nil || targets != 3 || delivered != 3 || !front.isOn() || !garage.isOn() {
		t.Fatalf("all-area alert: targets=%d delivered=%d err=%v", targets, delivered, err)
	}
}

func TestSustainExtendAndLapse(t *testing.T) {
	extend := make(chan struct{}, 1)
	lapses := 0
	extend <- struct{}{}

	start := time.Now()
	err := sustain(context.Background(), 20*time.Millisecond, extend, func() bool {
		lapses++
		return lapses == 2
	})
	if err != nil {
		t.Fatalf("sustain: %v", err)
	}
	if lapses != 2 {
		t.Fatalf("lapses = %d, want 2", lapses)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("sustain returned after %v, declined lapse should restart the hold", elapsed)
	}
}

func TestSirenControllerRetriggerAfterExpiry(t *testing.T) {
	r := &countingRelay{}
	s := NewSirenController(zerolog.Nop(), map[string]Relay{"front": r}, 20*time.Millisecond)
	defer s.Stop()

	if err := s.Trigger("front"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.Active() == 0 && !r.isOn() })

	if err := s.Trigger("front"); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if !r.isOn() || s.Active() != 1 {
		t.Fatal("relay should sound again after a lapsed hold")
	}
	waitFor(t, time.Second, func() bool { return s.Active() == 0 && !r.isOn() })
	if r.activations != 2 {
		t.Fatalf("activations = %d, want 2", r.activations)
	}
}
