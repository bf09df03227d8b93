// Package device defines the normalized view of the flood-sensing device:
// one water-detect switch, one distance sensor, and two actuators.
//
// Upstream property values arrive loosely typed (the device may report a
// boolean as true, 1, "on" or omit it entirely). The helpers here coerce them
// to safe defaults instead of failing, so a transiently missing property never
// blocks a poll.
package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// State is one synchronized reading of the device. It is a value type:
// every consumer (history, alerting, HTTP response) gets its own copy.
type State struct {
	WaterDetected  bool
	PumpOn         bool
	BuzzerOn       bool
	DistanceCM     float64
	ManualOverride bool // PumpOn || BuzzerOn
	ObservedAt     time.Time
}

// NewState builds a State and derives ManualOverride.
func NewState(water, pump, buzzer bool, distanceCM float64, at time.Time) State {
	return State{
		WaterDetected:  water,
		PumpOn:         pump,
		BuzzerOn:       buzzer,
		DistanceCM:     distanceCM,
		ManualOverride: pump || buzzer,
		ObservedAt:     at,
	}
}

// Actuator names a writable device property.
type Actuator string

const (
	Pump   Actuator = "pump"
	Buzzer Actuator = "buzzer"
)

// ParseActuator accepts "pump" or "buzzer" (case-insensitive).
func ParseActuator(s string) (Actuator, error) {
	switch Actuator(strings.ToLower(strings.TrimSpace(s))) {
	case Pump:
		return Pump, nil
	case Buzzer:
		return Buzzer, nil
	}
	return "", fmt.Errorf("unknown actuator %q", s)
}

// Truthy coerces an upstream property value to a boolean.
// Unknown or malformed values are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "on", "yes", "high":
			return true
		case "off", "no", "low", "":
			return false
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f != 0
		}
		return false
	}
	return false
}

// Distance coerces an upstream property value to a non-negative distance in
// centimetres. Absent, negative or non-numeric values are 0.
func Distance(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// TimeLayout is the wire format for timestamps: UTC with millisecond
// precision, e.g. 2026-03-01T12:00:00.000Z.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
