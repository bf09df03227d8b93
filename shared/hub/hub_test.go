package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/device"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil)
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	return h, conn, cancel
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHub_BroadcastsState(t *testing.T) {
	h, conn, cancel := startHub(t)
	defer cancel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.ObserveState(context.Background(), device.NewState(true, true, false, 4, at)))

	m := readMessage(t, conn)
	assert.Equal(t, "state", m["type"])
	payload := m["payload"].(map[string]any)
	assert.Equal(t, true, payload["waterDetected"])
	assert.Equal(t, true, payload["manualOverride"])
	assert.Equal(t, 4.0, payload["distanceCM"])
	assert.Equal(t, "2026-03-01T12:00:00.000Z", payload["lastUpdate"])
}

func TestHub_BroadcastsAlert(t *testing.T) {
	h, conn, cancel := startHub(t)
	defer cancel()

	require.NoError(t, h.PublishAlert(context.Background(), alerting.Alert{ID: "a-1", Subject: alerting.Subject}))
	m := readMessage(t, conn)
	assert.Equal(t, "alert", m["type"])
	assert.Equal(t, "a-1", m["payload"].(map[string]any)["id"])
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h, conn, cancel := startHub(t)
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)

	// Sends after shutdown do not block.
	assert.NoError(t, h.BroadcastState(context.Background(), device.State{}))
}
