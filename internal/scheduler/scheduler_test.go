package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func TestRegister_RejectsDuplicateAndBadSpec(t *testing.T) {
	s := NewCron(log.New(io.Discard))

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Register("@hourly", "job-a", noop))
	require.Error(t, s.Register("@daily", "job-a", noop))
	require.Error(t, s.Register("not a cron spec", "job-b", noop))
}

func TestSingleFlight_SkipsOverlappingTicks(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	sf := &singleFlight{
		jobID:  "slow",
		logger: log.New(io.Discard),
		task: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}

	go sf.run(context.Background())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A second tick while the first holds the lock is dropped.
	sf.run(context.Background())
	require.EqualValues(t, 1, runs.Load())

	close(release)
	require.Eventually(t, func() bool {
		if !sf.running.TryLock() {
			return false
		}
		sf.running.Unlock()
		return true
	}, time.Second, 5*time.Millisecond)

	sf.run(context.Background())
	require.EqualValues(t, 2, runs.Load())
}

func TestSingleFlight_ErrorsAreContained(t *testing.T) {
	sf := &singleFlight{
		jobID:  "failing",
		logger: log.New(io.Discard),
		task: func(ctx context.Context) error {
			return errors.New("boom")
		},
	}
	sf.run(context.Background()) // must not panic
	sf.run(context.Background())
}

func TestCronScheduler_RunsRegisteredJob(t *testing.T) {
	s := NewCron(log.New(io.Discard))
	var runs atomic.Int32
	require.NoError(t, s.Register("@every 10ms", "ticker", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
