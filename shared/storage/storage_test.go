package storage

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]HistoryStore {
	return map[string]HistoryStore{
		"memory": NewMemoryStore(),
		"sqlite": openSQLite(t),
	}
}

func TestHistoryStore_QueryOrderAndBounds(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Inserted out of order on purpose.
			for _, off := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour, 0} {
				require.NoError(t, store.Append(ctx, HistoryRecord{
					Timestamp:     base.Add(off),
					WaterDetected: off == time.Hour,
					DistanceCM:    float64(off / time.Hour),
				}))
			}

			recs, err := store.Query(ctx, base.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.True(t, recs[0].Timestamp.Equal(base.Add(time.Hour)), "since is inclusive")
			assert.True(t, recs[0].WaterDetected)
			assert.Equal(t, 2.0, recs[1].DistanceCM)
			assert.Equal(t, 3.0, recs[2].DistanceCM)
		})
	}
}

func TestHistoryStore_EmptyQuery(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			recs, err := store.Query(context.Background(), base)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestHistoryStore_Prune(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, store.Append(ctx, HistoryRecord{Timestamp: base.Add(time.Duration(i) * time.Hour)}))
			}
			n, err := store.Prune(ctx, base.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			recs, err := store.Query(ctx, time.Time{})
			require.NoError(t, err)
			assert.Len(t, recs, 3)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), HistoryRecord{Timestamp: base, WaterDetected: true, DistanceCM: 4.5}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Query(context.Background(), base)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 4.5, recs[0].DistanceCM)
	assert.True(t, recs[0].Timestamp.Equal(base))
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("month")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, r.Window())

	r, err = ParseRange("6months")
	require.NoError(t, err)
	assert.Equal(t, 180*24*time.Hour, r.Window())

	for _, bad := range []string{"", "year", "Month", "6Months"} {
		_, err := ParseRange(bad)
		assert.ErrorIs(t, err, ErrInvalidRange, bad)
	}
}

func TestQueryRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := base
	require.NoError(t, store.Append(ctx, HistoryRecord{Timestamp: now.Add(-31 * 24 * time.Hour), DistanceCM: 99}))
	require.NoError(t, store.Append(ctx, HistoryRecord{Timestamp: now.Add(-10 * 24 * time.Hour), DistanceCM: 20}))
	require.NoError(t, store.Append(ctx, HistoryRecord{Timestamp: now.Add(-time.Hour), WaterDetected: true, DistanceCM: 3}))

	s, err := QueryRange(ctx, store, RangeMonth, now)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 3}, s.Distances)
	assert.Equal(t, []int{0, 1}, s.WaterFlags)
	assert.Len(t, s.Timestamps, 2)

	s, err = QueryRange(ctx, store, RangeSixMonths, now)
	require.NoError(t, err)
	assert.Len(t, s.Distances, 3)

	_, err = QueryRange(ctx, store, Range("week"), now)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestILPLine(t *testing.T) {
	line := ilpLine("thing 1", HistoryRecord{Timestamp: time.Unix(0, 42), WaterDetected: true, DistanceCM: 12.5})
	assert.Equal(t, "smartwater_history,thing_id=thing\\ 1 water_detected=true,distance_cm=12.5 42\n", string(line))
}

func TestQuestDBStore_AppendWritesILP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		l, _ := bufio.NewReader(conn).ReadString('\n')
		lines <- l
	}()

	// sql.Open does not connect, so the DSN need not be reachable.
	s, err := OpenQuestDB(QuestDBConfig{ILPAddr: ln.Addr().String(), DSN: "postgres://localhost:1/qdb?sslmode=disable", ThingID: "t"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(context.Background(), HistoryRecord{Timestamp: time.Unix(1, 0), DistanceCM: 7}))
	select {
	case l := <-lines:
		assert.Equal(t, "smartwater_history,thing_id=t water_detected=false,distance_cm=7 1000000000\n", l)
	case <-time.After(2 * time.Second):
		t.Fatal("no ILP line received")
	}
}
