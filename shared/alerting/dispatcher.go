package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/notify"
)

// Config wires the dispatcher to its channels. Email and SMS may be nil to
// disable a channel.
type Config struct {
	Directory notify.Directory
	Email     notify.EmailSender
	SMS       notify.SMSSender

	Publishers []Publisher

	// Concurrency bounds in-flight sends per alert. Default: 8.
	Concurrency int
	// SendTimeout bounds each directory lookup and each send. Default: 10s.
	SendTimeout time.Duration

	// OnReport, if set, receives the report of every completed fan-out.
	OnReport func(Report)

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher owns the previous water flag and the alert watermark.
type Dispatcher struct {
	cfg Config

	mu        sync.Mutex // guards prev and prevAt together with watermark advances
	prev      bool
	prevAt    time.Time
	watermark Watermark

	wg sync.WaitGroup
}

func NewDispatcher(cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{cfg: cfg}
}

// Watermark exposes the last-alert time for status responses.
func (d *Dispatcher) Watermark() *Watermark { return &d.watermark }

// Observe compares state against the previously observed water flag, stores
// the new flag and fires on a rising edge. The swap and the watermark update
// happen under one lock, so concurrent polls fire at most once per edge.
//
// States are ordered by ObservedAt, not by arrival: a poll that finishes
// after a newer one is ignored.
func (d *Dispatcher) Observe(ctx context.Context, state device.State) (Alert, bool) {
	d.mu.Lock()
	if !state.ObservedAt.IsZero() && state.ObservedAt.Before(d.prevAt) {
		d.mu.Unlock()
		d.cfg.Logger.Debug("stale poll ignored", "observed_at", state.ObservedAt, "latest", d.prevAt)
		return Alert{}, false
	}
	prev := d.prev
	d.prev = state.WaterDetected
	if !state.ObservedAt.IsZero() {
		d.prevAt = state.ObservedAt
	}
	a, fired := d.detect(prev, state)
	d.mu.Unlock()

	if fired {
		d.dispatch(ctx, a)
	}
	return a, fired
}

// Evaluate fires when previous is false and state reports water. The caller
// supplies previous; Observe is the stateful variant used by the poll cycle.
func (d *Dispatcher) Evaluate(ctx context.Context, previous bool, state device.State) (Alert, bool) {
	d.mu.Lock()
	a, fired := d.detect(previous, state)
	d.mu.Unlock()

	if fired {
		d.dispatch(ctx, a)
	}
	return a, fired
}

// Wait blocks until every in-flight fan-out has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// detect must be called with d.mu held.
func (d *Dispatcher) detect(previous bool, state device.State) (Alert, bool) {
	if previous || !state.WaterDetected {
		return Alert{}, false
	}
	at := state.ObservedAt
	if at.IsZero() {
		at = time.Now()
	}
	d.watermark.Advance(at)
	return Alert{
		ID:         newAlertID(),
		At:         at,
		DistanceCM: state.DistanceCM,
		Subject:    Subject,
		Message:    Message(at, state.DistanceCM),
	}, true
}

// dispatch runs the fan-out in the background. The poll's context ends with
// its HTTP response, so delivery detaches from cancellation.
func (d *Dispatcher) dispatch(ctx context.Context, a Alert) {
	ctx = context.WithoutCancel(ctx)
	d.cfg.Logger.Info("water alert fired", "alert_id", a.ID, "distance_cm", a.DistanceCM)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, p := range d.cfg.Publishers {
			pctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			if err := p.PublishAlert(pctx, a); err != nil {
				d.cfg.Logger.Warn("alert publish failed", "alert_id", a.ID, "err", err)
			}
			cancel()
		}
		r := d.fanOut(ctx, a)
		if d.cfg.OnReport != nil {
			d.cfg.OnReport(r)
		}
	}()
}

func (d *Dispatcher) fanOut(ctx context.Context, a Alert) Report {
	r := Report{AlertID: a.ID}
	if d.cfg.Directory == nil || (d.cfg.Email == nil && d.cfg.SMS == nil) {
		return r
	}

	lctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	recipients, err := d.cfg.Directory.VerifiedRecipients(lctx)
	cancel()
	if err != nil {
		// Partial results are still delivered.
		r.DirectoryErr = err
		d.cfg.Logger.Warn("recipient lookup failed", "alert_id", a.ID, "err", err, "recipients", len(recipients))
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	record := func(ch Channel, to string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			r.Sent++
			return
		}
		ce := ChannelError{Channel: ch, Recipient: to, Err: err}
		r.Failed = append(r.Failed, ce)
		d.cfg.Logger.Warn("alert delivery failed", "alert_id", a.ID, "channel", ch, "recipient", to, "err", err)
	}

	for _, rec := range recipients {
		if !rec.Verified {
			continue
		}
		if rec.Email != "" && d.cfg.Email != nil {
			to := rec.Email
			g.Go(func() error {
				sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
				defer cancel()
				record(ChannelEmail, to, d.cfg.Email.SendEmail(sctx, to, a.Subject, a.Message))
				return nil
			})
		}
		if rec.Phone != "" && d.cfg.SMS != nil {
			to := rec.Phone
			g.Go(func() error {
				sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
				defer cancel()
				record(ChannelSMS, to, d.cfg.SMS.SendSMS(sctx, to, a.Message))
				return nil
			})
		}
	}
	g.Wait()

	d.cfg.Logger.Info("alert fan-out complete", "alert_id", a.ID, "sent", r.Sent, "failed", len(r.Failed))
	return r
}

func newAlertID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
