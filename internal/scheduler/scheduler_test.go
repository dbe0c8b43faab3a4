package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"daily", "0 0 * * *", false},
		{"list", "0 3,15 * * *", false},
		{"step", "*/15 * * * *", false},
		{"range step", "0-30/10 9-17 * * 1-5", false},
		{"four fields", "0 0 * *", true},
		{"garbage", "x 0 * * *", true},
		{"out of range", "60 0 * * *", true},
		{"zero step", "*/0 * * * *", true},
		{"inverted range", "0 5-1 * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 3, 4, 10, 7, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 0 * * *", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1", time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)},
		{"8 10 * * *", time.Date(2026, 3, 4, 10, 8, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleNextImpossible(t *testing.T) {
	s, err := ParseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = s.Next(time.Now())
	assert.Error(t, err)
}

func TestEveryRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s, err := Every("tick", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("keeps going")
	}, discard, WithImmediateRun())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	_, err := Every("bad", 0, func(context.Context) error { return nil }, discard)
	assert.Error(t, err)
}

func TestCronStopsWhileWaiting(t *testing.T) {
	s, err := Cron("yearly", "0 0 1 1 *", func(context.Context) error { return nil }, discard)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
}
