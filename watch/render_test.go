package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJhunterxv/smartwater/sdk/dashboard"
)

func TestRenderer_PrintsEachEventOnce(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{w: &buf}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := dashboard.Event{At: at, Message: "Dashboard Initialized.", Severity: dashboard.SeverityGood}
	second := dashboard.Event{At: at.Add(time.Second), Message: "Water detection: Yes", Severity: dashboard.SeverityBad}

	r.render(dashboard.View{Events: []dashboard.Event{first}})
	r.render(dashboard.View{Events: []dashboard.Event{first}})
	r.render(dashboard.View{Events: []dashboard.Event{second, first}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Dashboard Initialized.")
	assert.Contains(t, lines[1], "Water detection: Yes")
}

func TestStatusLine(t *testing.T) {
	st := &dashboard.Status{DistanceCM: 4, WaterDetected: true}
	v := dashboard.View{
		Mode:       dashboard.ModeLive,
		Online:     true,
		Status:     st,
		Gauge:      dashboard.NewGauge(4),
		PumpSwitch: true,
		Badges: dashboard.Badges{
			Water:     dashboard.Badge{Text: "Yes"},
			Mode:      dashboard.Badge{Text: "Auto"},
			LastAlert: dashboard.Badge{Text: "None"},
		},
	}
	line := statusLine(v)
	assert.Contains(t, line, "online")
	assert.Contains(t, line, "water=Yes")
	assert.Contains(t, line, "pump=On buzzer=Off")
	assert.Contains(t, line, "distance=4cm")
	assert.Contains(t, line, "gauge=92% (critical)")

	v.Online = false
	assert.Contains(t, statusLine(v), "OFFLINE")
}

func TestAlertSubOptions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t.Cleanup(func() { *durable, *since = "", 0 })

	assert.Equal(t, "", alertSubOptions(now).Durable, "core subscription by default")

	*durable, *since = "ops-laptop", time.Hour
	opt := alertSubOptions(now)
	assert.Equal(t, "ops-laptop", opt.Durable)
	require.NotNil(t, opt.StartTime)
	assert.Equal(t, now.Add(-time.Hour), *opt.StartTime)
}
