// Package telemetry runs the poll cycle: read the device-cloud, normalize the
// reading into a device.State, then hand copies to history, the CSV poll log,
// the alert dispatcher and any live observers.
package telemetry

import (
	"context"
	"time"

	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/devicecloud"
)

// PropertyIDs maps the thing's property identifiers to device fields.
type PropertyIDs struct {
	Water    string
	Distance string
	Pump     string
	Buzzer   string
}

// PropertyReader is the read side of the device-cloud client.
type PropertyReader interface {
	Properties(ctx context.Context) ([]devicecloud.Property, error)
}

// Synchronizer turns one property-list read into a device.State.
type Synchronizer struct {
	reader PropertyReader
	ids    PropertyIDs
	now    func() time.Time
}

// NewSynchronizer returns a Synchronizer. now may be nil.
func NewSynchronizer(reader PropertyReader, ids PropertyIDs, now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{reader: reader, ids: ids, now: now}
}

// SyncOnce reads the current property values. Missing or malformed values
// default to false/0; only the read itself can fail.
func (s *Synchronizer) SyncOnce(ctx context.Context) (device.State, error) {
	props, err := s.reader.Properties(ctx)
	if err != nil {
		return device.State{}, err
	}

	var water, pump, buzzer bool
	var distance float64
	for _, p := range props {
		switch p.ID {
		case s.ids.Water:
			water = device.Truthy(p.LastValue)
		case s.ids.Distance:
			distance = device.Distance(p.LastValue)
		case s.ids.Pump:
			pump = device.Truthy(p.LastValue)
		case s.ids.Buzzer:
			buzzer = device.Truthy(p.LastValue)
		}
	}
	return device.NewState(water, pump, buzzer, distance, s.now().UTC()), nil
}
