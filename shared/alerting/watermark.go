package alerting

import (
	"sync"
	"time"
)

// Watermark records when an alert condition was last detected. It is never
// cleared and never moves backwards.
type Watermark struct {
	mu   sync.RWMutex
	last time.Time
	set  bool
}

// Advance moves the watermark to t unless it already holds a later time.
func (w *Watermark) Advance(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.set || t.After(w.last) {
		w.last = t
		w.set = true
	}
}

// Last returns the watermark and whether it has ever been set.
func (w *Watermark) Last() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.set
}
