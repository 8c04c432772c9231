package device

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/remote"
)

// fakeClock is a controllable virtual clock. Advance fires due timers in
// order on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at time.Time
	fn func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, &fakeTimer{at: c.now.Add(d), fn: fn})
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	var due, rest []*fakeTimer
	for _, tm := range c.timers {
		if !tm.at.After(deadline) {
			due = append(due, tm)
		} else {
			rest = append(rest, tm)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, tm := range due {
		tm.fn()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*Controller, *remote.MemoryChannel, *eventlog.Log, *fakeClock) {
	t.Helper()
	ch := remote.NewMemoryChannel()
	log := eventlog.New()
	clock := newFakeClock()
	return NewController(ch, log, clock, testLogger()), ch, log, clock
}

func decodeBool(t *testing.T, payload []byte) bool {
	t.Helper()
	var v bool
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("payload %q: %v", payload, err)
	}
	return v
}

func TestDeviceKinds(t *testing.T) {
	tests := []struct {
		d        Device
		kind     Kind
		duration time.Duration
	}{
		{Fan, Persistent, 0},
		{Heater, Persistent, 0},
		{LED, Persistent, 0},
		{Feed, Momentary, 5 * time.Second},
		{Stepper1, Momentary, 30 * time.Second},
		{Stepper2, Momentary, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if tt.d.Kind() != tt.kind {
				t.Errorf("kind = %v, want %v", tt.d.Kind(), tt.kind)
			}
			if tt.d.PulseDuration() != tt.duration {
				t.Errorf("duration = %v, want %v", tt.d.PulseDuration(), tt.duration)
			}
		})
	}
}

func TestParseDevice(t *testing.T) {
	for _, d := range All {
		got, err := ParseDevice(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDevice(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDevice("pump"); err == nil {
		t.Error("ParseDevice(pump) should fail")
	}
}

func TestToggleWritesNegation(t *testing.T) {
	c, ch, log, _ := newTestController(t)

	// Heater last known false -> toggle writes true.
	if err := c.Toggle(context.Background(), Heater); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	writes := ch.Writes()
	if len(writes) != 1 || writes[0].Path != "controls/heater" || !decodeBool(t, writes[0].Payload) {
		t.Fatalf("writes = %+v, want one true write to controls/heater", writes)
	}

	entries := log.Entries()
	if len(entries) != 1 || entries[0].Message != "HEATER turned ON" || entries[0].Severity != eventlog.SeverityInfo {
		t.Fatalf("log = %+v, want info \"HEATER turned ON\"", entries)
	}

	// Local state is not updated optimistically.
	if c.IsOn(Heater) {
		t.Error("Toggle must not mutate local state before remote confirmation")
	}

	// Confirmation arrives; now toggle writes false.
	c.ApplyRemote(model.ControlState{Heater: true})
	if !c.IsOn(Heater) {
		t.Fatal("ApplyRemote not applied")
	}
	if err := c.Toggle(context.Background(), Heater); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	writes = ch.Writes()
	if len(writes) != 2 || decodeBool(t, writes[1].Payload) {
		t.Fatalf("second toggle should write false, got %+v", writes)
	}
	if log.Entries()[0].Message != "HEATER turned OFF" {
		t.Errorf("log head = %q, want \"HEATER turned OFF\"", log.Entries()[0].Message)
	}
}

func TestToggleWriteFailure(t *testing.T) {
	c, ch, log, _ := newTestController(t)
	ch.FailWrites("controls/heater", errors.New("broker unavailable"))

	if err := c.Toggle(context.Background(), Heater); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	entries := log.Entries()
	if len(entries) != 1 || entries[0].Severity != eventlog.SeverityError {
		t.Fatalf("log = %+v, want one error entry", entries)
	}
	want := "Failed to toggle heater: write controls/heater: broker unavailable"
	if entries[0].Message != want {
		t.Errorf("message = %q, want %q", entries[0].Message, want)
	}
	if c.IsOn(Heater) {
		t.Error("failed toggle must leave local state unchanged")
	}
}

func TestToggleRejectsMomentary(t *testing.T) {
	c, ch, _, _ := newTestController(t)
	if err := c.Toggle(context.Background(), Feed); err == nil {
		t.Fatal("Toggle(feed) should be rejected")
	}
	if len(ch.Writes()) != 0 {
		t.Error("rejected toggle must not write")
	}
}

func TestPulseSchedulesRevert(t *testing.T) {
	c, ch, log, clock := newTestController(t)

	if err := c.Pulse(context.Background(), Feed); err != nil {
		t.Fatalf("Pulse: %v", err)
	}

	writes := ch.Writes()
	if len(writes) != 1 || writes[0].Path != "controls/feed" || !decodeBool(t, writes[0].Payload) {
		t.Fatalf("writes = %+v, want one true write to controls/feed", writes)
	}
	entries := log.Entries()
	if len(entries) != 1 || entries[0].Message != "Activated FEED" || entries[0].Severity != eventlog.SeveritySuccess {
		t.Fatalf("log = %+v, want success \"Activated FEED\"", entries)
	}

	// Just before the deadline nothing happens.
	clock.Advance(5*time.Second - time.Millisecond)
	if len(ch.Writes()) != 1 {
		t.Fatal("revert fired early")
	}

	// At exactly 5s the off-write fires, with no log entry.
	clock.Advance(time.Millisecond)
	writes = ch.Writes()
	if len(writes) != 2 || writes[1].Path != "controls/feed" || decodeBool(t, writes[1].Payload) {
		t.Fatalf("writes = %+v, want a false revert write", writes)
	}
	if len(log.Entries()) != 1 {
		t.Error("revert write must not log")
	}
	if c.PendingReverts(Feed) != 0 {
		t.Errorf("pending reverts = %d, want 0", c.PendingReverts(Feed))
	}
}

func TestPulseFailureSchedulesNoRevert(t *testing.T) {
	c, ch, log, clock := newTestController(t)
	ch.FailWrites("controls/feed", errors.New("timeout"))

	if err := c.Pulse(context.Background(), Feed); err != nil {
		t.Fatalf("Pulse: %v", err)
	}

	entries := log.Entries()
	if len(entries) != 1 || entries[0].Severity != eventlog.SeverityError {
		t.Fatalf("log = %+v, want one error entry", entries)
	}
	want := "Failed to activate feed: write controls/feed: timeout"
	if entries[0].Message != want {
		t.Errorf("message = %q, want %q", entries[0].Message, want)
	}
	if c.PendingReverts(Feed) != 0 {
		t.Error("failed pulse must not schedule a revert")
	}

	clock.Advance(time.Minute)
	if n := len(ch.Writes()); n != 0 {
		t.Errorf("writes after advance = %d, want 0", n)
	}
}

func TestOverlappingPulses(t *testing.T) {
	c, ch, _, clock := newTestController(t)

	if err := c.Pulse(context.Background(), Feed); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	clock.Advance(2 * time.Second)
	if err := c.Pulse(context.Background(), Feed); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if c.PendingReverts(Feed) != 2 {
		t.Fatalf("pending reverts = %d, want 2", c.PendingReverts(Feed))
	}

	// First revert at t=5s, second at t=7s; each fires independently.
	clock.Advance(3 * time.Second)
	writes := ch.Writes()
	if len(writes) != 3 || decodeBool(t, writes[2].Payload) {
		t.Fatalf("after first revert: writes = %+v", writes)
	}
	clock.Advance(2 * time.Second)
	writes = ch.Writes()
	if len(writes) != 4 || decodeBool(t, writes[3].Payload) {
		t.Fatalf("after second revert: writes = %+v", writes)
	}
	if c.PendingReverts(Feed) != 0 {
		t.Errorf("pending reverts = %d, want 0", c.PendingReverts(Feed))
	}
}

func TestStepperPulseDuration(t *testing.T) {
	c, ch, _, clock := newTestController(t)

	if err := c.Pulse(context.Background(), Stepper1); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	clock.Advance(29 * time.Second)
	if len(ch.Writes()) != 1 {
		t.Fatal("stepper revert fired before 30s")
	}
	clock.Advance(time.Second)
	writes := ch.Writes()
	if len(writes) != 2 || writes[1].Path != "controls/stepper1" || decodeBool(t, writes[1].Payload) {
		t.Fatalf("writes = %+v, want stepper1 revert at 30s", writes)
	}
}

func TestPulseRejectsPersistent(t *testing.T) {
	c, ch, _, _ := newTestController(t)
	if err := c.Pulse(context.Background(), Fan); err == nil {
		t.Fatal("Pulse(fan) should be rejected")
	}
	if len(ch.Writes()) != 0 {
		t.Error("rejected pulse must not write")
	}
}

func TestApplyRemoteDoesNotCancelReverts(t *testing.T) {
	c, ch, _, clock := newTestController(t)

	if err := c.Pulse(context.Background(), Feed); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	// A remote confirmation arrives mid-pulse; the timer is untouched.
	c.ApplyRemote(model.ControlState{Feed: true})
	clock.Advance(5 * time.Second)
	writes := ch.Writes()
	if len(writes) != 2 || decodeBool(t, writes[1].Payload) {
		t.Fatalf("revert should still fire, writes = %+v", writes)
	}
}
