package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CJhunterxv/smartwater/shared/device"
)

// Mode is the session's top-level state.
type Mode string

const (
	ModeLive             Mode = "live"
	ModeHistoricalMonth  Mode = "month"
	ModeHistorical6Month Mode = "6months"
)

// ParseMode accepts "live", "month" and "6months".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLive, ModeHistoricalMonth, ModeHistorical6Month:
		return m, nil
	}
	return "", fmt.Errorf("dashboard: unknown mode %q", s)
}

// Badge is one status indicator.
type Badge struct {
	Text     string
	Severity Severity
}

type Badges struct {
	Water     Badge
	Pump      Badge
	Buzzer    Badge
	Mode      Badge
	LastAlert Badge
}

// View is an immutable snapshot of everything a viewer renders.
type View struct {
	Mode   Mode
	Online bool

	// Status is the last successful poll; nil before the first one.
	Status *Status
	Badges Badges
	Gauge  Gauge

	// Switch positions, including optimistic toggles not yet confirmed.
	PumpSwitch   bool
	BuzzerSwitch bool

	Chart  []Point
	Events []Event
}

// SessionConfig configures a Session.
type SessionConfig struct {
	API API

	// Interval between live polls. Default 2s.
	Interval time.Duration
	// ReconcileDelay is the wait before the extra poll after a toggle.
	// Default 200ms.
	ReconcileDelay time.Duration
	// ChartCapacity defaults to 30 points.
	ChartCapacity int

	// OnChange receives a fresh View after every state change. It is called
	// outside the session lock and may be called from several goroutines.
	OnChange func(View)

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *SessionConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.ReconcileDelay <= 0 {
		c.ReconcileDelay = 200 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("dashboard: session closed")

// Session is one viewer's state machine over Live, HistoricalMonth and
// Historical6Month. Exactly one live timer runs at a time.
type Session struct {
	cfg SessionConfig

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc

	// modeMu serializes mode switches so loops never overlap.
	modeMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}

	mu        sync.Mutex
	mode      Mode
	online    bool
	seenWater bool
	prevWater bool
	status    *Status
	pump      bool
	buzzer    bool
	chart     *ChartWindow
	events    *ActivityLog
	closed    bool

	// timers holds reconciliation polls not yet started; guarded by mu.
	timers    map[*time.Timer]struct{}
	reconcile sync.WaitGroup
}

func NewSession(cfg SessionConfig) *Session {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		mode:   ModeLive,
		online: true,
		chart:  NewChartWindow(cfg.ChartCapacity),
		events: NewActivityLog(ActivityLogCap),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start logs the initialization event and enters Live.
func (s *Session) Start() error {
	s.mu.Lock()
	s.addEvent("Dashboard Initialized.", SeverityGood)
	s.mu.Unlock()
	s.changed()
	return s.SetMode(s.ctx, ModeLive)
}

// SetMode cancels any running live timer and waits for it, clears the
// chart, then either resumes polling (Live) or loads one historical
// snapshot.
func (s *Session) SetMode(ctx context.Context, m Mode) error {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	s.stopLive()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mode = m
	s.chart.Reset()
	s.mu.Unlock()
	s.changed()

	if m == ModeLive {
		s.startLive()
		return nil
	}

	h, err := s.cfg.API.Historical(ctx, string(m))
	s.mu.Lock()
	if s.mode != m {
		s.mu.Unlock()
		return err
	}
	if err != nil {
		s.addEvent("Historical data unavailable.", SeverityBad)
	} else {
		s.chart.Replace(historicalPoints(h))
	}
	s.mu.Unlock()
	s.changed()
	return err
}

func (s *Session) startLive() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.stopLoop, s.loopDone = cancel, done

	go func() {
		defer close(done)
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Tick(ctx)
			}
		}
	}()
}

// stopLive must be called with modeMu held.
func (s *Session) stopLive() {
	if s.stopLoop == nil {
		return
	}
	s.stopLoop()
	<-s.loopDone
	s.stopLoop, s.loopDone = nil, nil
}

// Tick requests the latest status once and folds it into the session.
// A cancelled request changes nothing.
func (s *Session) Tick(ctx context.Context) error {
	st, err := s.cfg.API.Status(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}

	s.mu.Lock()
	if err != nil {
		// One event per offline edge, not per failed tick.
		if s.online {
			s.online = false
			s.addEvent("Physical system offline.", SeverityBad)
		}
		s.mu.Unlock()
		s.cfg.Logger.Debug("status poll failed", "err", err)
		s.changed()
		return err
	}

	if !s.online {
		s.online = true
		s.addEvent("Physical system connected.", SeverityGood)
	}
	if !s.seenWater || s.prevWater != st.WaterDetected {
		if st.WaterDetected {
			s.addEvent("Water detection: Yes", SeverityBad)
		} else {
			s.addEvent("Water detection: No", SeverityGood)
		}
	}
	s.seenWater, s.prevWater = true, st.WaterDetected

	s.status = &st
	s.pump, s.buzzer = st.PumpState, st.BuzzerState
	if s.mode == ModeLive {
		water := 0
		if st.WaterDetected {
			water = 1
		}
		s.chart.Push(Point{
			Label:    s.cfg.Now().Format("15:04:05"),
			Distance: st.DistanceCM,
			Water:    water,
		})
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// TogglePump flips the pump switch optimistically and sends the command.
// On failure the switch reverts and a failure event is logged. Either way
// one reconciliation poll follows shortly.
func (s *Session) TogglePump(ctx context.Context) error {
	return s.apply(ctx, device.Pump, func(cur bool) bool { return !cur })
}

// ToggleBuzzer is TogglePump for the buzzer.
func (s *Session) ToggleBuzzer(ctx context.Context) error {
	return s.apply(ctx, device.Buzzer, func(cur bool) bool { return !cur })
}

// SetPump is TogglePump with an explicit target position.
func (s *Session) SetPump(ctx context.Context, on bool) error {
	return s.apply(ctx, device.Pump, func(bool) bool { return on })
}

// SetBuzzer is SetPump for the buzzer.
func (s *Session) SetBuzzer(ctx context.Context, on bool) error {
	return s.apply(ctx, device.Buzzer, func(bool) bool { return on })
}

func (s *Session) apply(ctx context.Context, which device.Actuator, target func(cur bool) bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sw := s.switchFor(which)
	prev := *sw
	next := target(prev)
	*sw = next
	s.addEvent(fmt.Sprintf("%s manually set to %s.", title(which), onOff(next)), toggleSeverity(which, next))
	s.mu.Unlock()
	s.changed()

	err := s.cfg.API.SetActuator(ctx, which, next)
	if err != nil {
		s.mu.Lock()
		*s.switchFor(which) = prev
		s.addEvent(title(which)+" control failed!", SeverityBad)
		s.mu.Unlock()
		s.cfg.Logger.Warn("actuator command failed", "actuator", which, "on", next, "err", err)
		s.changed()
	}

	s.scheduleReconcile()
	return err
}

func (s *Session) scheduleReconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.reconcile.Add(1)
	var t *time.Timer
	// The callback takes mu, so it cannot observe t before it is stored.
	t = time.AfterFunc(s.cfg.ReconcileDelay, func() {
		defer s.reconcile.Done()
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		s.Tick(s.ctx)
	})
	s.timers[t] = struct{}{}
}

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Close stops the live timer and cancels pending reconciliation polls.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		// A timer that already fired releases the group itself.
		if t.Stop() {
			s.reconcile.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	s.cancel()
	s.modeMu.Lock()
	s.stopLive()
	s.modeMu.Unlock()
	s.reconcile.Wait()
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.View())
	}
}

func (s *Session) addEvent(msg string, sev Severity) {
	s.events.Add(Event{At: s.cfg.Now(), Message: msg, Severity: sev})
}

func (s *Session) switchFor(which device.Actuator) *bool {
	if which == device.Buzzer {
		return &s.buzzer
	}
	return &s.pump
}

func (s *Session) viewLocked() View {
	v := View{
		Mode:         s.mode,
		Online:       s.online,
		PumpSwitch:   s.pump,
		BuzzerSwitch: s.buzzer,
		Chart:        s.chart.Points(),
		Events:       s.events.Entries(),
	}
	if s.status != nil {
		st := *s.status
		v.Status = &st
		v.Gauge = NewGauge(st.DistanceCM)
		v.Badges = badgesFor(st)
	}
	return v
}

func badgesFor(st Status) Badges {
	b := Badges{
		Water:     Badge{"No", SeverityGood},
		Pump:      Badge{"Off", SeverityNeutral},
		Buzzer:    Badge{"Off", SeverityNeutral},
		Mode:      Badge{"Auto", SeverityGood},
		LastAlert: Badge{"None", SeverityNeutral},
	}
	if st.WaterDetected {
		b.Water = Badge{"Yes", SeverityBad}
	}
	if st.PumpState {
		b.Pump = Badge{"On", SeverityGood}
	}
	if st.BuzzerState {
		b.Buzzer = Badge{"On", SeverityWarn}
	}
	if st.ManualOverride {
		b.Mode = Badge{"Manual", SeverityWarn}
	}
	if st.LastAlert != nil {
		text := *st.LastAlert
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			text = t.Local().Format("2006-01-02 15:04:05")
		}
		b.LastAlert = Badge{text, SeverityWarn}
	}
	return b
}

func title(which device.Actuator) string {
	if which == device.Buzzer {
		return "Buzzer"
	}
	return "Pump"
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func toggleSeverity(which device.Actuator, on bool) Severity {
	switch {
	case !on:
		return SeverityNeutral
	case which == device.Buzzer:
		return SeverityWarn
	}
	return SeverityGood
}
