package device

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"one", float64(1), true},
		{"zero", float64(0), false},
		{"nan", math.NaN(), false},
		{"json number", json.Number("2"), true},
		{"string true", "true", true},
		{"string on", "ON", true},
		{"string off", "off", false},
		{"string numeric", "0", false},
		{"garbage", "wet?", false},
		{"object", map[string]any{"v": true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.in))
		})
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"absent", nil, 0},
		{"float", 12.5, 12.5},
		{"int", 7, 7},
		{"negative", -3.0, 0},
		{"string", " 42.25 ", 42.25},
		{"bad string", "far", 0},
		{"inf", math.Inf(1), 0},
		{"bool", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.in))
		})
	}
}

func TestNewStateDerivesManualOverride(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.False(t, NewState(true, false, false, 3, at).ManualOverride)
	assert.True(t, NewState(false, true, false, 3, at).ManualOverride)
	assert.True(t, NewState(false, false, true, 3, at).ManualOverride)
}

func TestParseActuator(t *testing.T) {
	a, err := ParseActuator("Pump")
	require.NoError(t, err)
	assert.Equal(t, Pump, a)

	a, err = ParseActuator("buzzer")
	require.NoError(t, err)
	assert.Equal(t, Buzzer, a)

	_, err = ParseActuator("valve")
	assert.Error(t, err)
}

func TestFormatTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 13, 4, 5, 678_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-03-01T12:04:05.678Z", FormatTime(at))
}
