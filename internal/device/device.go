// Package device implements the actuator state machine: persistent toggles,
// momentary pulses with fixed-duration auto-revert, and reconciliation with
// remote control state.
package device

import (
	"fmt"
	"time"

	"farm-go-remote/internal/model"
)

// Device identifies one actuator on the controller. The set is closed.
type Device int

const (
	Fan Device = iota
	Heater
	LED
	Feed
	Stepper1
	Stepper2
)

// All lists every device in declaration order.
var All = []Device{Fan, Heater, LED, Feed, Stepper1, Stepper2}

// Kind distinguishes the two actuator interaction models.
type Kind int

const (
	// Persistent devices hold their state until toggled again.
	Persistent Kind = iota
	// Momentary devices are pulsed on and auto-revert after a fixed duration.
	Momentary
)

// String returns the device's store name.
func (d Device) String() string {
	switch d {
	case Fan:
		return "fan"
	case Heater:
		return "heater"
	case LED:
		return "led"
	case Feed:
		return "feed"
	case Stepper1:
		return "stepper1"
	case Stepper2:
		return "stepper2"
	}
	return fmt.Sprintf("device(%d)", int(d))
}

// Kind reports the interaction model of the device.
func (d Device) Kind() Kind {
	switch d {
	case Feed, Stepper1, Stepper2:
		return Momentary
	default:
		return Persistent
	}
}

// PulseDuration is the fixed on-time for a momentary device.
func (d Device) PulseDuration() time.Duration {
	switch d {
	case Feed:
		return 5 * time.Second
	case Stepper1, Stepper2:
		return 30 * time.Second
	}
	return 0
}

// Path is the store key for the device's energized flag.
func (d Device) Path() string {
	return "controls/" + d.String()
}

// ParseDevice maps a store name back to a Device.
func ParseDevice(name string) (Device, error) {
	for _, d := range All {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown device %q", name)
}

// stateOf reads a device's flag out of a ControlState.
func stateOf(s model.ControlState, d Device) bool {
	switch d {
	case Fan:
		return s.Fan
	case Heater:
		return s.Heater
	case LED:
		return s.LED
	case Feed:
		return s.Feed
	case Stepper1:
		return s.Stepper1
	case Stepper2:
		return s.Stepper2
	}
	return false
}
