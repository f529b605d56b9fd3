package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts map[string]int
	err    error
	asOf   []time.Time
}

func (f *fakeCounter) DueCounts(_ context.Context, asOf time.Time) (map[string]int, error) {
	f.asOf = append(f.asOf, asOf)
	return f.counts, f.err
}

func at(hour int) *clock.Manual {
	return clock.NewManual(time.Date(2025, 11, 15, hour, 30, 0, 0, time.UTC))
}

func TestSweep(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"bob": 2, "alice": 5, "carol": 0}}
	sink := &event.Recorder{}
	r := New(counter, sink, DefaultConfig(), at(9), nil)

	sent, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	events := sink.OfType(event.TypeReviewsDue)
	require.Len(t, events, 2)
	assert.Equal(t, event.ReviewsDue{UserID: "alice", Count: 5}, events[0].Payload)
	assert.Equal(t, event.ReviewsDue{UserID: "bob", Count: 2}, events[1].Payload)
}

func TestSweepOutsideWindow(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"alice": 5}}
	sink := &event.Recorder{}
	r := New(counter, sink, DefaultConfig(), at(3), nil)

	sent, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, counter.asOf, "the store is not queried outside the window")
	assert.Empty(t, sink.Events())
}

func TestSweepCounterError(t *testing.T) {
	boom := errors.New("db locked")
	r := New(&fakeCounter{err: boom}, &event.Recorder{}, DefaultConfig(), at(12), nil)
	_, err := r.Sweep(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestInWindow(t *testing.T) {
	testCases := []struct {
		name       string
		start, end int
		hour       int
		expected   bool
	}{
		{"Inside day window", 8, 22, 12, true},
		{"Start hour is inclusive", 8, 22, 8, true},
		{"End hour is inclusive", 8, 22, 22, true},
		{"Before day window", 8, 22, 7, false},
		{"After day window", 8, 22, 23, false},
		{"Overnight late", 22, 6, 23, true},
		{"Overnight early", 22, 6, 2, true},
		{"Overnight midday", 22, 6, 12, false},
		{"Single hour", 9, 9, 9, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{StartHour: tc.start, EndHour: tc.end}
			assert.Equal(t, tc.expected, cfg.InWindow(tc.hour))
		})
	}
}

func TestStartRunsSweep(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"alice": 1}}
	sink := &event.Recorder{}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	r := New(counter, sink, cfg, at(10), nil)

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return len(sink.OfType(event.TypeReviewsDue)) == 1
	}, 2*time.Second, 10*time.Millisecond, "the first sweep runs on start")
}
