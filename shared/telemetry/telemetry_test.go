package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/devicecloud"
	"github.com/CJhunterxv/smartwater/shared/storage"
)

var ids = PropertyIDs{Water: "w-id", Distance: "d-id", Pump: "p-id", Buzzer: "b-id"}

// scriptedReader returns one scripted response per call, repeating the last.
type scriptedReader struct {
	mu    sync.Mutex
	steps []func() ([]devicecloud.Property, error)
	n     int
}

func (r *scriptedReader) Properties(context.Context) ([]devicecloud.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.n
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	r.n++
	return r.steps[i]()
}

func reading(water any, distance any, pump, buzzer any) func() ([]devicecloud.Property, error) {
	return func() ([]devicecloud.Property, error) {
		return []devicecloud.Property{
			{ID: "w-id", Name: "waterDetected", LastValue: water},
			{ID: "d-id", Name: "distanceCM", LastValue: distance},
			{ID: "p-id", Name: "pumpState", LastValue: pump},
			{ID: "b-id", Name: "buzzerState", LastValue: buzzer},
			{ID: "other", Name: "rssi", LastValue: -70},
		}, nil
	}
}

func failing(err error) func() ([]devicecloud.Property, error) {
	return func() ([]devicecloud.Property, error) { return nil, err }
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(2 * time.Second)
	return c.t
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSyncOnce_MapsAndCoerces(t *testing.T) {
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){reading("on", 12.5, 1.0, false)}}
	s := NewSynchronizer(r, ids, newClock().Now)

	st, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, st.WaterDetected)
	assert.True(t, st.PumpOn)
	assert.False(t, st.BuzzerOn)
	assert.True(t, st.ManualOverride)
	assert.Equal(t, 12.5, st.DistanceCM)
	assert.False(t, st.ObservedAt.IsZero())
}

func TestSyncOnce_MissingAndMalformedDefault(t *testing.T) {
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){
		func() ([]devicecloud.Property, error) {
			return []devicecloud.Property{
				{ID: "d-id", LastValue: "not a number"},
				{ID: "p-id", LastValue: map[string]any{"nested": true}},
			}, nil
		},
	}}
	st, err := NewSynchronizer(r, ids, nil).SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, st.WaterDetected)
	assert.False(t, st.PumpOn)
	assert.Equal(t, 0.0, st.DistanceCM)
}

func TestSyncOnce_PropagatesUpstreamError(t *testing.T) {
	upErr := &devicecloud.UpstreamError{Op: "read properties", StatusCode: 503}
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){failing(upErr)}}
	_, err := NewSynchronizer(r, ids, nil).SyncOnce(context.Background())
	var target *devicecloud.UpstreamError
	assert.ErrorAs(t, err, &target)
}

func TestPoll_PersistsLogsAndAlerts(t *testing.T) {
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){
		reading(false, 30, false, false),
		reading(true, 4, false, true),
		reading(true, 3, false, true),
		reading(false, 20, false, false),
		reading(true, 2, true, true),
	}}
	history := storage.NewMemoryStore()
	var syncs []error
	sc := NewSyncContext(Options{
		Synchronizer: NewSynchronizer(r, ids, newClock().Now),
		History:      history,
		OnSync:       func(err error) { syncs = append(syncs, err) },
	})

	var snaps []Snapshot
	for i := 0; i < 5; i++ {
		snap, err := sc.Poll(context.Background())
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}
	sc.Wait()

	assert.Nil(t, snaps[0].LastAlert)
	assert.NotNil(t, snaps[1].Alert)
	assert.Nil(t, snaps[2].Alert)
	assert.Nil(t, snaps[3].Alert)
	require.NotNil(t, snaps[4].Alert)
	require.NotNil(t, snaps[4].LastAlert)
	assert.Equal(t, snaps[4].State.ObservedAt, *snaps[4].LastAlert)
	assert.Equal(t, *snaps[1].LastAlert, *snaps[3].LastAlert, "watermark holds between edges")

	assert.Equal(t, 5, history.Len())
	assert.Equal(t, 5, sc.PollLog().Len())
	assert.Len(t, syncs, 5)
}

func TestPoll_FailureRecordsNothing(t *testing.T) {
	authErr := &devicecloud.AuthError{StatusCode: 401}
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){failing(authErr)}}
	history := storage.NewMemoryStore()
	var lastSync error
	sc := NewSyncContext(Options{
		Synchronizer: NewSynchronizer(r, ids, nil),
		History:      history,
		OnSync:       func(err error) { lastSync = err },
	})

	_, err := sc.Poll(context.Background())
	sc.Wait()
	assert.ErrorAs(t, err, new(*devicecloud.AuthError))
	assert.Error(t, lastSync)
	assert.Equal(t, 0, history.Len())
	assert.Equal(t, 0, sc.PollLog().Len())
}

type brokenStore struct {
	storage.HistoryStore
	calls chan struct{}
}

func (b *brokenStore) Append(context.Context, storage.HistoryRecord) error {
	b.calls <- struct{}{}
	return errors.New("disk full")
}

func TestPoll_HistoryFailureDoesNotFailPoll(t *testing.T) {
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){reading(false, 10, false, false)}}
	store := &brokenStore{calls: make(chan struct{}, 1)}
	sc := NewSyncContext(Options{Synchronizer: NewSynchronizer(r, ids, nil), History: store})

	_, err := sc.Poll(context.Background())
	require.NoError(t, err)
	sc.Wait()
	assert.Len(t, store.calls, 1)
}

type recordingObserver struct {
	states []device.State
}

func (o *recordingObserver) ObserveState(_ context.Context, s device.State) error {
	o.states = append(o.states, s)
	return errors.New("no listeners")
}

func TestPoll_NotifiesObservers(t *testing.T) {
	r := &scriptedReader{steps: []func() ([]devicecloud.Property, error){reading(false, 10, false, false)}}
	obs := &recordingObserver{}
	sc := NewSyncContext(Options{
		Synchronizer: NewSynchronizer(r, ids, nil),
		Dispatcher:   alerting.NewDispatcher(alerting.Config{}),
		Observers:    []Observer{obs},
	})
	_, err := sc.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs.states, 1)
}

func TestPrune(t *testing.T) {
	history := storage.NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, history.Append(ctx, storage.HistoryRecord{Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, history.Append(ctx, storage.HistoryRecord{Timestamp: now.Add(-time.Hour)}))
	sc := NewSyncContext(Options{History: history})

	n, err := sc.Prune(ctx, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = sc.Prune(ctx, 0, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollLog_EvictsOldest(t *testing.T) {
	l := NewPollLog(3)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Add(device.NewState(false, false, false, float64(i), base.Add(time.Duration(i)*time.Second)))
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{snap[0].DistanceCM, snap[1].DistanceCM, snap[2].DistanceCM})
}

func TestPollLog_WriteCSV(t *testing.T) {
	l := NewPollLog(0)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Add(device.NewState(true, false, true, 4.5, at))
	l.Add(device.NewState(false, true, false, 30, at.Add(2*time.Second)))

	var buf bytes.Buffer
	require.NoError(t, l.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"timestamp,pumpState,buzzerState,waterDetected,distanceCM",
		"2026-03-01T12:00:00.000Z,false,true,true,4.5",
		"2026-03-01T12:00:02.000Z,true,false,false,30",
	}, lines)
}

func TestPollLog_EmptyCSVHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPollLog(0).WriteCSV(&buf))
	assert.Equal(t, "timestamp,pumpState,buzzerState,waterDetected,distanceCM\n", buf.String())
}
