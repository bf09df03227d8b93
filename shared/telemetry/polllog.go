package telemetry

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/CJhunterxv/smartwater/shared/device"
)

// DefaultPollLogCap bounds the in-memory poll log.
const DefaultPollLogCap = 50_000

var csvHeader = []string{"timestamp", "pumpState", "buzzerState", "waterDetected", "distanceCM"}

// PollLog keeps every successful poll since process start, up to a cap,
// oldest evicted first. It backs the CSV export and is separate from the
// durable history.
type PollLog struct {
	mu   sync.Mutex
	buf  []device.State
	head int // index of the oldest entry once buf is full
	cap  int
}

// NewPollLog returns a log holding at most capacity entries (default when <= 0).
func NewPollLog(capacity int) *PollLog {
	if capacity <= 0 {
		capacity = DefaultPollLogCap
	}
	return &PollLog{cap: capacity}
}

func (l *PollLog) Add(s device.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.cap {
		l.buf = append(l.buf, s)
		return
	}
	l.buf[l.head] = s
	l.head = (l.head + 1) % l.cap
}

// Snapshot returns the entries oldest first.
func (l *PollLog) Snapshot() []device.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]device.State, 0, len(l.buf))
	out = append(out, l.buf[l.head:]...)
	out = append(out, l.buf[:l.head]...)
	return out
}

func (l *PollLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// WriteCSV writes the header and one row per entry.
func (l *PollLog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range l.Snapshot() {
		row := []string{
			device.FormatTime(s.ObservedAt),
			strconv.FormatBool(s.PumpOn),
			strconv.FormatBool(s.BuzzerOn),
			strconv.FormatBool(s.WaterDetected),
			strconv.FormatFloat(s.DistanceCM, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
