// Package storage defines the HistoryStore interface for the device's
// time-series history. The interface decouples the poll cycle from a
// specific database: memory, SQLite and QuestDB implementations live here and
// are selected at startup.
package storage

import (
	"context"
	"errors"
	"time"
)

// HistoryRecord is one persisted poll. Records are immutable once written.
type HistoryRecord struct {
	Timestamp     time.Time
	WaterDetected bool
	DistanceCM    float64
}

// HistoryStore is the interface all history backends implement.
// All methods must be safe to call from multiple goroutines concurrently.
type HistoryStore interface {
	// Append durably writes one record keyed by its timestamp.
	Append(ctx context.Context, rec HistoryRecord) error

	// Query returns every record with Timestamp >= since in ascending time
	// order. An empty result is not an error.
	Query(ctx context.Context, since time.Time) ([]HistoryRecord, error)

	// Prune deletes records with Timestamp < before and reports how many
	// were removed (-1 when the backend cannot count).
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources. No further calls after Close.
	Close() error
}

// Range is a named look-back window for chart queries.
type Range string

const (
	RangeMonth     Range = "month"
	RangeSixMonths Range = "6months"
)

// ErrInvalidRange is returned by ParseRange for anything but the two
// accepted ranges.
var ErrInvalidRange = errors.New("invalid time range")

// ParseRange validates a range query parameter.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case RangeMonth, RangeSixMonths:
		return Range(s), nil
	}
	return "", ErrInvalidRange
}

// Window returns the look-back duration of the range.
func (r Range) Window() time.Duration {
	switch r {
	case RangeMonth:
		return 30 * 24 * time.Hour
	case RangeSixMonths:
		return 180 * 24 * time.Hour
	}
	return 0
}

// Start returns the inclusive lower bound of the range relative to now.
func (r Range) Start(now time.Time) time.Time {
	return now.Add(-r.Window())
}

// Series is the column-oriented shape the chart consumes.
type Series struct {
	Timestamps []time.Time
	Distances  []float64
	WaterFlags []int // 1 when water was detected
}

// QueryRange loads the records of range r ending at now and splits them into
// chart columns.
func QueryRange(ctx context.Context, store HistoryStore, r Range, now time.Time) (Series, error) {
	if r.Window() == 0 {
		return Series{}, ErrInvalidRange
	}
	recs, err := store.Query(ctx, r.Start(now))
	if err != nil {
		return Series{}, err
	}
	s := Series{
		Timestamps: make([]time.Time, 0, len(recs)),
		Distances:  make([]float64, 0, len(recs)),
		WaterFlags: make([]int, 0, len(recs)),
	}
	for _, rec := range recs {
		s.Timestamps = append(s.Timestamps, rec.Timestamp)
		s.Distances = append(s.Distances, rec.DistanceCM)
		flag := 0
		if rec.WaterDetected {
			flag = 1
		}
		s.WaterFlags = append(s.WaterFlags, flag)
	}
	return s, nil
}
