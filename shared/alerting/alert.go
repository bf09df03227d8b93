// Package alerting detects the water-detected rising edge and fans the
// resulting alert out to every verified recipient over email and SMS.
//
// Detection is authoritative and synchronous: the watermark moves the moment
// an edge is seen. Delivery is best effort and asynchronous: per-recipient
// failures are logged and reported, never returned to the poll.
package alerting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CJhunterxv/smartwater/shared/device"
)

const Subject = "SmartWater Alert"

// Alert is one fired rising edge.
type Alert struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	DistanceCM float64   `json:"distanceCM"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
}

// Message renders the alert body sent over both channels.
func Message(at time.Time, distanceCM float64) string {
	return fmt.Sprintf("⚠️ SmartWater Alert: Water detected at %s, distance=%scm",
		device.FormatTime(at), strconv.FormatFloat(distanceCM, 'f', -1, 64))
}

// Channel names a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ChannelError is one recipient's failed delivery. Non-fatal.
type ChannelError struct {
	Channel   Channel
	Recipient string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Channel, e.Recipient, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Report aggregates the outcome of one alert's fan-out.
type Report struct {
	AlertID string
	Sent    int
	Failed  []ChannelError
	// DirectoryErr is set when the recipient lookup failed or was partial.
	DirectoryErr error
}

// Publisher receives every fired alert in addition to the notification
// channels (live dashboards, message bus).
type Publisher interface {
	PublishAlert(ctx context.Context, a Alert) error
}
