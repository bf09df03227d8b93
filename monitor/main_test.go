package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJhunterxv/smartwater/shared/config"
)

func runConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTPAddr: "127.0.0.1:0",
		Arduino: config.Arduino{
			ThingID:  "thing-1",
			APIURL:   "http://127.0.0.1:1",
			TokenURL: "http://127.0.0.1:1/token",
		},
		History: config.History{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "history.db")},
		Alerts:  config.Alerts{EmailProvider: "none", SMSProvider: "none"},
	}
}

func TestRun_LateStartupFailureReturnsAndCloses(t *testing.T) {
	cfg := runConfig(t)
	cfg.GRPCHealthAddr = "127.0.0.1:-1"

	err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:-1")

	// run returned instead of exiting, so its deferred closes ran and the
	// store opens again cleanly.
	h, err := openHistory(cfg)
	require.NoError(t, err)
	assert.NoError(t, h.Close())
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, runConfig(t)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestCloser_ClosesInReverseOrder(t *testing.T) {
	var order []string
	var c closer
	c.add(func() error { order = append(order, "history"); return nil })
	c.add(func() error { order = append(order, "directory"); return errors.New("already closed") })
	c.add(func() error { order = append(order, "nats"); return nil })
	c.closeAll()
	assert.Equal(t, []string{"nats", "directory", "history"}, order)
}
