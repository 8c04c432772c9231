// Package model holds the wire types shared between the remote store and the
// local mirrors: sensor snapshots, control state, and the automation schedule.
//
// Every document in the store is replaced wholesale on change. The decoders
// here are strict on purpose: a payload missing any field is rejected so the
// caller keeps its previous mirror instead of applying a partial update.
package model

import (
	"encoding/json"
	"fmt"
)

// SensorSnapshot is one complete reading pushed by the controller.
type SensorSnapshot struct {
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %
	Ammonia     float64 `json:"ammonia"`     // ppm
	FeedLevel   int     `json:"feedLevel"`   // 0-100
}

// ControlState maps every actuator to its energized flag. The device set is
// closed; there are no dynamic devices.
type ControlState struct {
	Fan      bool `json:"fan"`
	Heater   bool `json:"heater"`
	LED      bool `json:"led"`
	Feed     bool `json:"feed"`
	Stepper1 bool `json:"stepper1"`
	Stepper2 bool `json:"stepper2"`
}

// Schedule holds the five time-of-day automation settings. No ordering is
// enforced between fields: led_on after led_off simply means an overnight-off
// period.
type Schedule struct {
	EggTime   TimeOfDay `json:"egg_time"`
	StoolTime TimeOfDay `json:"stool_time"`
	FeedTime  TimeOfDay `json:"feed_time"`
	LedOn     TimeOfDay `json:"led_on"`
	LedOff    TimeOfDay `json:"led_off"`
}

// DecodeSensors parses a sensors document. All four fields must be present.
func DecodeSensors(payload []byte) (SensorSnapshot, error) {
	var probe struct {
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		Ammonia     *float64 `json:"ammonia"`
		FeedLevel   *int     `json:"feedLevel"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return SensorSnapshot{}, fmt.Errorf("decode sensors: %w", err)
	}
	if probe.Temperature == nil || probe.Humidity == nil || probe.Ammonia == nil || probe.FeedLevel == nil {
		return SensorSnapshot{}, fmt.Errorf("decode sensors: incomplete document")
	}
	if *probe.FeedLevel < 0 || *probe.FeedLevel > 100 {
		return SensorSnapshot{}, fmt.Errorf("decode sensors: feedLevel %d out of range", *probe.FeedLevel)
	}
	return SensorSnapshot{
		Temperature: *probe.Temperature,
		Humidity:    *probe.Humidity,
		Ammonia:     *probe.Ammonia,
		FeedLevel:   *probe.FeedLevel,
	}, nil
}

// DecodeControls parses a controls document. All six devices must be present.
func DecodeControls(payload []byte) (ControlState, error) {
	var probe struct {
		Fan      *bool `json:"fan"`
		Heater   *bool `json:"heater"`
		LED      *bool `json:"led"`
		Feed     *bool `json:"feed"`
		Stepper1 *bool `json:"stepper1"`
		Stepper2 *bool `json:"stepper2"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ControlState{}, fmt.Errorf("decode controls: %w", err)
	}
	if probe.Fan == nil || probe.Heater == nil || probe.LED == nil ||
		probe.Feed == nil || probe.Stepper1 == nil || probe.Stepper2 == nil {
		return ControlState{}, fmt.Errorf("decode controls: incomplete document")
	}
	return ControlState{
		Fan:      *probe.Fan,
		Heater:   *probe.Heater,
		LED:      *probe.LED,
		Feed:     *probe.Feed,
		Stepper1: *probe.Stepper1,
		Stepper2: *probe.Stepper2,
	}, nil
}

// DecodeSchedule parses a schedule document. All five fields must be present
// and well-formed "HH:MM" values.
func DecodeSchedule(payload []byte) (Schedule, error) {
	var probe struct {
		EggTime   *string `json:"egg_time"`
		StoolTime *string `json:"stool_time"`
		FeedTime  *string `json:"feed_time"`
		LedOn     *string `json:"led_on"`
		LedOff    *string `json:"led_off"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	fields := map[string]*string{
		"egg_time":   probe.EggTime,
		"stool_time": probe.StoolTime,
		"feed_time":  probe.FeedTime,
		"led_on":     probe.LedOn,
		"led_off":    probe.LedOff,
	}
	parsed := make(map[string]TimeOfDay, len(fields))
	for name, raw := range fields {
		if raw == nil {
			return Schedule{}, fmt.Errorf("decode schedule: missing %s", name)
		}
		t, err := ParseTimeOfDay(*raw)
		if err != nil {
			return Schedule{}, fmt.Errorf("decode schedule: %s: %w", name, err)
		}
		parsed[name] = t
	}
	return Schedule{
		EggTime:   parsed["egg_time"],
		StoolTime: parsed["stool_time"],
		FeedTime:  parsed["feed_time"],
		LedOn:     parsed["led_on"],
		LedOff:    parsed["led_off"],
	}, nil
}
