package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(cron string) Config {
	return Config{Cron: cron, Logger: slog.New(slog.DiscardHandler)}
}

func TestRunOnStart(t *testing.T) {
	done := make(chan struct{}, 4)
	cfg := quietConfig("0 3 * * 1")
	cfg.RunOnStart = true
	s := New(cfg, func(ctx context.Context) error {
		done <- struct{}{}
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}
	assert.Eventually(t, func() bool { return s.Runs() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWaitsForSchedule(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(quietConfig("0 3 * * 1"), func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
		t.Fatal("cron job ran before its schedule")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, time.Monday, s.NextRun().UTC().Weekday())
}

func TestFailuresCounted(t *testing.T) {
	cfg := quietConfig("@every 1h")
	cfg.RunOnStart = true
	s := New(cfg, func(ctx context.Context) error { return errors.New("boom") })
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return s.Failures() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Runs())
}

func TestInvalidCron(t *testing.T) {
	s := New(quietConfig("not a cron"), func(ctx context.Context) error { return nil })
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.NextRun().IsZero())
}

func TestDefaultCron(t *testing.T) {
	s := New(Config{}, func(ctx context.Context) error { return nil })
	assert.Equal(t, DefaultCron, s.cfg.Cron)
}

func TestWaitStopsOnCancel(t *testing.T) {
	s := New(quietConfig("@every 1h"), func(ctx context.Context) error { return nil })
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Wait(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
