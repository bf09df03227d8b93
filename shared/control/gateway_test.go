package control

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/devicecloud"
)

type write struct {
	prop  string
	value any
}

type fakePublisher struct {
	writes []write
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, prop string, value any) error {
	f.writes = append(f.writes, write{prop, value})
	return f.err
}

func TestSetActuator_WritesMappedProperty(t *testing.T) {
	pub := &fakePublisher{}
	g := NewGateway(pub, "pump-prop", "buzzer-prop", nil)

	ack, err := g.SetActuator(context.Background(), device.Pump, true)
	require.NoError(t, err)
	assert.Equal(t, device.Pump, ack.Actuator)
	assert.True(t, ack.On)
	id, err := uuid.Parse(ack.CommandID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	_, err = g.SetActuator(context.Background(), device.Buzzer, false)
	require.NoError(t, err)

	assert.Equal(t, []write{{"pump-prop", true}, {"buzzer-prop", false}}, pub.writes)
}

func TestSetActuator_UpstreamFailure(t *testing.T) {
	upErr := &devicecloud.UpstreamError{Op: "publish property", StatusCode: 502}
	pub := &fakePublisher{err: upErr}
	g := NewGateway(pub, "pump-prop", "buzzer-prop", nil)

	_, err := g.SetActuator(context.Background(), device.Buzzer, true)
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, device.Buzzer, ce.Actuator)
	assert.NotEmpty(t, ce.CommandID)

	var up *devicecloud.UpstreamError
	assert.ErrorAs(t, err, &up, "underlying error stays reachable")
	assert.Len(t, pub.writes, 1, "no retry")
}

func TestSetActuator_UnknownActuator(t *testing.T) {
	pub := &fakePublisher{}
	g := NewGateway(pub, "pump-prop", "", nil)

	_, err := g.SetActuator(context.Background(), device.Actuator("valve"), true)
	assert.True(t, errors.Is(err, ErrUnknownActuator))

	_, err = g.SetActuator(context.Background(), device.Buzzer, true)
	assert.ErrorIs(t, err, ErrUnknownActuator, "unconfigured property")
	assert.Empty(t, pub.writes)
}
