package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"

	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	logger := zerolog.Nop()
	return New(log.NewJobLogger(&logger), &logger)
}

func TestRegisterInvalidSpec(t *testing.T) {
	s := newTestScheduler(t)

	err := s.Register("broken", "not a cron spec", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRegisterAndStatus(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Register(JobExpireSubscriptions, "0 * * * *", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Register(JobExpiryReminders, "15 9 * * *", func(ctx context.Context) error { return nil }))

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[JobExpireSubscriptions].Scheduled)
	assert.False(t, statuses[JobExpireSubscriptions].Running)
	assert.NotEmpty(t, s.StatusString())
}

func TestStopJob(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Register(JobNotificationCleanup, "45 3 * * 0", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.StopJob(JobNotificationCleanup))
	assert.Empty(t, s.Status())

	assert.ErrorIs(t, s.StopJob("no-such-job"), ErrUnknownJob)
}

func TestRunSkipsWhileInFlight(t *testing.T) {
	s := newTestScheduler(t)
	entry := &jobEntry{name: "overlap", running: uatomic.NewBool(false)}

	started := make(chan struct{})
	release := make(chan struct{})
	var runs uatomic.Int64

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(entry, func(ctx context.Context) error {
			runs.Inc()
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	// The tick fired while the first run is still in flight: it is dropped.
	s.run(entry, func(ctx context.Context) error {
		runs.Inc()
		return nil
	})

	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), runs.Load())
}

func TestRunRecoversPanics(t *testing.T) {
	s := newTestScheduler(t)
	entry := &jobEntry{name: "panicky", running: uatomic.NewBool(false)}

	assert.NotPanics(t, func() {
		s.run(entry, func(ctx context.Context) error {
			panic("boom")
		})
	})

	run, ok := s.jobLogger.LastRun("panicky")
	require.True(t, ok)
	assert.False(t, run.OK())
	assert.Contains(t, run.Err, "boom")
	assert.False(t, entry.running.Load())
}
