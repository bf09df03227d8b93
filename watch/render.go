package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/CJhunterxv/smartwater/sdk/dashboard"
)

// renderer prints one status line per view and each activity event once.
type renderer struct {
	mu   sync.Mutex
	w    io.Writer
	last *dashboard.Event
}

func (r *renderer) render(v dashboard.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Events are newest first; print the unseen ones oldest first.
	var fresh []dashboard.Event
	for _, e := range v.Events {
		if r.last != nil && e == *r.last {
			break
		}
		fresh = append(fresh, e)
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		e := fresh[i]
		fmt.Fprintf(r.w, "[%s] %-7s %s\n", e.At.Format("15:04:05"), e.Severity, e.Message)
	}
	if len(v.Events) > 0 {
		newest := v.Events[0]
		r.last = &newest
	}

	if v.Status == nil {
		return
	}
	fmt.Fprintln(r.w, statusLine(v))
}

func statusLine(v dashboard.View) string {
	var b strings.Builder
	conn := "online"
	if !v.Online {
		conn = "OFFLINE"
	}
	fmt.Fprintf(&b, "%-7s %-7s water=%s pump=%s buzzer=%s mode=%s distance=%gcm gauge=%.0f%% (%s) last-alert=%s",
		v.Mode, conn,
		v.Badges.Water.Text, switchText(v.PumpSwitch), switchText(v.BuzzerSwitch), v.Badges.Mode.Text,
		v.Gauge.DistanceCM, v.Gauge.Percent, v.Gauge.Level, v.Badges.LastAlert.Text)
	if n := len(v.Chart); n > 0 && v.Mode != dashboard.ModeLive {
		fmt.Fprintf(&b, " points=%d", n)
	}
	return b.String()
}

func switchText(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}
