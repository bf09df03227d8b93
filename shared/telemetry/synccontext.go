package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/storage"
)

// Observer is notified after every successful poll. Failures are logged.
type Observer interface {
	ObserveState(ctx context.Context, s device.State) error
}

// Snapshot is the outcome of one poll as the status endpoint reports it.
type Snapshot struct {
	State     device.State
	LastAlert *time.Time
	Alert     *alerting.Alert // set when this poll fired
}

// Options wires a SyncContext.
type Options struct {
	Synchronizer *Synchronizer
	History      storage.HistoryStore
	PollLog      *PollLog
	Dispatcher   *alerting.Dispatcher
	Observers    []Observer

	// HistoryTimeout bounds one background append. Default: 10s.
	HistoryTimeout time.Duration
	// OnSync, if set, receives the outcome of every poll (health reporting).
	OnSync func(err error)

	Logger *slog.Logger
}

// SyncContext is the injected state of the poll cycle. There is no
// package-level state; tests build one per case.
type SyncContext struct {
	opts Options
	wg   sync.WaitGroup
}

func NewSyncContext(opts Options) *SyncContext {
	if opts.PollLog == nil {
		opts.PollLog = NewPollLog(0)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = alerting.NewDispatcher(alerting.Config{Logger: opts.Logger})
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SyncContext{opts: opts}
}

func (c *SyncContext) PollLog() *PollLog { return c.opts.PollLog }

func (c *SyncContext) History() storage.HistoryStore { return c.opts.History }

func (c *SyncContext) Dispatcher() *alerting.Dispatcher { return c.opts.Dispatcher }

// Poll runs one synchronize, persist, alert-evaluate cycle. Only the
// synchronize step can fail the poll; a failed poll records nothing.
func (c *SyncContext) Poll(ctx context.Context) (Snapshot, error) {
	state, err := c.opts.Synchronizer.SyncOnce(ctx)
	if c.opts.OnSync != nil {
		c.opts.OnSync(err)
	}
	if err != nil {
		c.opts.Logger.Error("device sync failed", "err", err)
		return Snapshot{}, err
	}

	if c.opts.History != nil {
		rec := storage.HistoryRecord{
			Timestamp:     state.ObservedAt,
			WaterDetected: state.WaterDetected,
			DistanceCM:    state.DistanceCM,
		}
		hctx := context.WithoutCancel(ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			hctx, cancel := context.WithTimeout(hctx, c.opts.HistoryTimeout)
			defer cancel()
			if err := c.opts.History.Append(hctx, rec); err != nil {
				c.opts.Logger.Error("history append failed", "err", err, "timestamp", device.FormatTime(rec.Timestamp))
			}
		}()
	}

	c.opts.PollLog.Add(state)

	snap := Snapshot{State: state}
	if a, fired := c.opts.Dispatcher.Observe(ctx, state); fired {
		snap.Alert = &a
	}
	if last, ok := c.opts.Dispatcher.Watermark().Last(); ok {
		snap.LastAlert = &last
	}

	for _, o := range c.opts.Observers {
		if err := o.ObserveState(ctx, state); err != nil {
			c.opts.Logger.Warn("state observer failed", "err", err)
		}
	}
	return snap, nil
}

// Prune removes history older than retention.
func (c *SyncContext) Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if c.opts.History == nil || retention <= 0 {
		return 0, nil
	}
	return c.opts.History.Prune(ctx, now.Add(-retention))
}

// Wait blocks until background history writes and alert fan-outs finish.
func (c *SyncContext) Wait() {
	c.wg.Wait()
	c.opts.Dispatcher.Wait()
}
