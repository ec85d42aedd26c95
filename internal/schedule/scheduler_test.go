package schedule

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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startScheduler(t *testing.T, jobs ...Job) *Scheduler {
	t.Helper()

	s, err := New(quietLogger(), jobs...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func status(t *testing.T, s *Scheduler, name string) JobStatus {
	t.Helper()
	for _, st := range s.Statuses() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("no status for job %s", name)
	return JobStatus{}
}

func TestJobRunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	s := startScheduler(t, Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return status(t, s, "tick").Runs >= 3 }, time.Second, 5*time.Millisecond)
	st := status(t, s, "tick")
	assert.NoError(t, st.LastError)
	assert.False(t, st.LastRun.IsZero())
	assert.Equal(t, time.UTC, st.LastRun.Location())
}

func TestRunAtStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	startScheduler(t, Job{
		Name:       "boot",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run at start")
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	release := make(chan struct{})

	s := startScheduler(t, Job{
		Name:       "slow",
		Interval:   5 * time.Millisecond,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			runs.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})

	require.Eventually(t, func() bool { return status(t, s, "slow").Skipped >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
	close(release)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestDifferentJobsRunConcurrently(t *testing.T) {
	bRan := make(chan struct{})
	var aDone atomic.Bool

	startScheduler(t,
		Job{
			Name:       "a",
			Interval:   time.Hour,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				select {
				case <-bRan:
					aDone.Store(true)
				case <-ctx.Done():
				}
				return nil
			},
		},
		Job{
			Name:       "b",
			Interval:   time.Hour,
			RunAtStart: true,
			Run: func(context.Context) error {
				close(bRan)
				return nil
			},
		},
	)

	require.Eventually(t, aDone.Load, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger(t *testing.T) {
	var runs atomic.Int32
	s := startScheduler(t, Job{
		Name:     "manual",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	assert.False(t, s.Trigger("missing"))
	require.True(t, s.Trigger("manual"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunErrorsAreRecorded(t *testing.T) {
	boom := errors.New("store unavailable")
	var calls atomic.Int32

	s := startScheduler(t, Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			if calls.Add(1) == 1 {
				return boom
			}
			panic("unexpected state")
		},
	})

	require.Eventually(t, func() bool { return status(t, s, "flaky").Runs >= 2 }, 2*time.Second, 5*time.Millisecond)
	st := status(t, s, "flaky")
	assert.Equal(t, StateError, st.State)
	assert.ErrorContains(t, st.LastError, "panic")
}

func TestRunTimeout(t *testing.T) {
	s := startScheduler(t, Job{
		Name:       "hung",
		Interval:   time.Hour,
		Timeout:    20 * time.Millisecond,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	require.Eventually(t, func() bool { return status(t, s, "hung").Runs == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, status(t, s, "hung").LastError, context.DeadlineExceeded)
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	s, err := New(quietLogger(), Job{
		Name:       "work",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, finished.Load())

	// Stopping twice is harmless.
	assert.NoError(t, s.Stop(ctx))
}

func TestStopCancelsAfterDeadline(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	s, err := New(quietLogger(), Job{
		Name:       "stuck",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}

func TestRegisterValidation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New(quietLogger(), Job{Name: "", Interval: time.Second, Run: noop})
	assert.Error(t, err)

	_, err = New(quietLogger(), Job{Name: "a", Run: noop})
	assert.Error(t, err)

	_, err = New(quietLogger(), Job{Name: "a", Interval: time.Second})
	assert.Error(t, err)

	_, err = New(quietLogger(),
		Job{Name: "a", Interval: time.Second, Run: noop},
		Job{Name: "a", Interval: time.Minute, Run: noop},
	)
	assert.Error(t, err)

	s := startScheduler(t, Job{Name: "a", Interval: time.Hour, Run: noop})
	assert.ErrorIs(t, s.Register(Job{Name: "b", Interval: time.Hour, Run: noop}), ErrRunning)
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)
}
