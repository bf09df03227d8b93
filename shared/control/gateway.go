// Package control forwards operator actuator commands to the device-cloud.
// A command is one property publish: no retry, no queue, no idempotency key.
// Clients reconcile by polling status afterwards.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CJhunterxv/smartwater/shared/device"
)

// ErrUnknownActuator is returned for actuators with no configured property.
var ErrUnknownActuator = errors.New("unknown actuator")

// Publisher is the write side of the device-cloud client.
type Publisher interface {
	Publish(ctx context.Context, propertyID string, value any) error
}

// ControlError is a failed actuator write. Err is the underlying
// *devicecloud.AuthError or *devicecloud.UpstreamError.
type ControlError struct {
	CommandID string
	Actuator  device.Actuator
	On        bool
	Err       error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("set %s=%t (command %s): %v", e.Actuator, e.On, e.CommandID, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// Ack confirms the device-cloud accepted the write.
type Ack struct {
	CommandID string          `json:"command_id"`
	Actuator  device.Actuator `json:"actuator"`
	On        bool            `json:"on"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// Gateway maps actuators to their property IDs and issues the writes.
type Gateway struct {
	pub        Publisher
	properties map[device.Actuator]string
	logger     *slog.Logger
}

// NewGateway returns a Gateway writing pump and buzzer to the given property
// IDs. logger may be nil.
func NewGateway(pub Publisher, pumpID, buzzerID string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		pub: pub,
		properties: map[device.Actuator]string{
			device.Pump:   pumpID,
			device.Buzzer: buzzerID,
		},
		logger: logger,
	}
}

// SetActuator turns which on or off. It succeeds only if the upstream write
// succeeds.
func (g *Gateway) SetActuator(ctx context.Context, which device.Actuator, on bool) (Ack, error) {
	propID, ok := g.properties[which]
	if !ok || propID == "" {
		return Ack{}, fmt.Errorf("%w: %q", ErrUnknownActuator, which)
	}

	ack := Ack{CommandID: newCommandID(), Actuator: which, On: on, IssuedAt: time.Now().UTC()}
	if err := g.pub.Publish(ctx, propID, on); err != nil {
		g.logger.Error("actuator command failed",
			"command_id", ack.CommandID, "actuator", which, "on", on, "err", err)
		return Ack{}, &ControlError{CommandID: ack.CommandID, Actuator: which, On: on, Err: err}
	}

	g.logger.Info("actuator command sent", "command_id", ack.CommandID, "actuator", which, "on", on)
	return ack, nil
}

func newCommandID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
