package dashboard

import "time"

// ActivityLogCap is the number of events a session keeps.
const ActivityLogCap = 20

// Severity classifies events and badges for display.
type Severity string

const (
	SeverityGood    Severity = "good"
	SeverityWarn    Severity = "warn"
	SeverityBad     Severity = "bad"
	SeverityNeutral Severity = "neutral"
)

// Event is one activity log entry.
type Event struct {
	At       time.Time
	Message  string
	Severity Severity
}

// ActivityLog keeps the most recent events, newest first.
type ActivityLog struct {
	entries  []Event
	capacity int
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = ActivityLogCap
	}
	return &ActivityLog{capacity: capacity}
}

func (l *ActivityLog) Add(e Event) {
	l.entries = append([]Event{e}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
}

// Entries returns a copy, newest first.
func (l *ActivityLog) Entries() []Event {
	return append([]Event(nil), l.entries...)
}
