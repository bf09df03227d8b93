package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/device"
)

// StateEvent is the bus payload for one poll.
type StateEvent struct {
	ThingID        string  `json:"thing_id"`
	WaterDetected  bool    `json:"waterDetected"`
	PumpState      bool    `json:"pumpState"`
	BuzzerState    bool    `json:"buzzerState"`
	DistanceCM     float64 `json:"distanceCM"`
	ManualOverride bool    `json:"manualOverride"`
	ObservedAt     string  `json:"observedAt"`
}

// AlertEvent is the bus payload for one fired alert.
type AlertEvent struct {
	ThingID string `json:"thing_id"`
	alerting.Alert
}

func StateSubject(thingID string) string { return "telemetry." + thingID + ".state" }

func AlertSubject(thingID string) string { return "alert." + thingID + ".water" }

// AlertStream is the JetStream stream holding alert subjects.
const AlertStream = "alert"

// Bus publishes poll states and alerts for one thing.
type Bus struct {
	r       MessageRouter
	thingID string
}

func NewBus(r MessageRouter, thingID string) *Bus {
	return &Bus{r: r, thingID: thingID}
}

// ObserveState publishes on core NATS; states are high-frequency and
// replaceable.
func (b *Bus) ObserveState(ctx context.Context, s device.State) error {
	data, err := json.Marshal(StateEvent{
		ThingID:        b.thingID,
		WaterDetected:  s.WaterDetected,
		PumpState:      s.PumpOn,
		BuzzerState:    s.BuzzerOn,
		DistanceCM:     s.DistanceCM,
		ManualOverride: s.ManualOverride,
		ObservedAt:     device.FormatTime(s.ObservedAt),
	})
	if err != nil {
		return fmt.Errorf("marshal state event: %w", err)
	}
	return b.r.Publish(ctx, StateSubject(b.thingID), data)
}

// PublishAlert publishes through JetStream, deduplicated by alert ID.
func (b *Bus) PublishAlert(ctx context.Context, a alerting.Alert) error {
	data, err := json.Marshal(AlertEvent{ThingID: b.thingID, Alert: a})
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	return b.r.Publish(ctx, AlertSubject(b.thingID), data, PubOptions{DeduplicationID: a.ID})
}
