// Package scheduler runs the recurring billing jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	uatomic "go.uber.org/atomic"

	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
)

// Job names.
const (
	JobExpireSubscriptions = "expire-subscriptions"
	JobExpiryReminders     = "expiry-reminders"
	JobNotificationCleanup = "notification-cleanup"
	JobMonthlyReport       = "monthly-report"
)

var ErrUnknownJob = errors.New("unknown scheduler job")

// JobStatus is a point-in-time snapshot of one registered job.
type JobStatus struct {
	Name      string
	Scheduled bool
	Running   bool
	Next      time.Time
	Prev      time.Time
	LastRun   *log.JobRun
}

type jobEntry struct {
	name    string
	spec    string
	entryID cron.EntryID
	running *uatomic.Bool
}

// Scheduler registers jobs with a shared cron runner. Each job skips its
// tick when the previous run is still in flight, recovers panics, and
// reports outcomes through the JobLogger.
type Scheduler struct {
	cron      *cron.Cron
	jobLogger *log.JobLogger
	logger    zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

func New(jobLogger *log.JobLogger, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		jobLogger: jobLogger,
		logger:    logger.With().Str("channel", "scheduler").Logger(),
		jobs:      make(map[string]*jobEntry),
	}
}

// Register schedules fn under the given cron spec. Registering the same
// name twice replaces the previous schedule.
func (s *Scheduler) Register(name, spec string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[name]; ok {
		s.cron.Remove(prev.entryID)
	}

	entry := &jobEntry{name: name, spec: spec, running: uatomic.NewBool(false)}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.run(entry, fn)
	})
	if err != nil {
		return errors.Wrapf(err, "unable to schedule job %q with spec %q", name, spec)
	}

	entry.entryID = entryID
	s.jobs[name] = entry

	s.logger.Info().Str("job", name).Str("spec", spec).Msg("job registered")

	return nil
}

func (s *Scheduler) run(entry *jobEntry, fn func(ctx context.Context) error) {
	if !entry.running.CAS(false, true) {
		s.logger.Warn().Str("job", entry.name).Msg("previous run still in flight, skipping tick")
		return
	}
	defer entry.running.Store(false)

	ctx := s.logger.With().Str("job", entry.name).Logger().WithContext(context.Background())

	startedAt := s.jobLogger.JobStarted(entry.name)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("job panicked: %v", r)
			}
		}()
		err = fn(ctx)
	}()

	s.jobLogger.JobFinished(entry.name, startedAt, err)
}

// Start begins firing schedules. Jobs can still be registered afterwards.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// StopJob unschedules one job. A run already in flight finishes.
func (s *Scheduler) StopJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[name]
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}

	s.cron.Remove(entry.entryID)
	delete(s.jobs, name)
	s.logger.Info().Str("job", name).Msg("job unscheduled")

	return nil
}

// StopAll stops the cron runner and waits for in-flight jobs to finish.
func (s *Scheduler) StopAll(ctx context.Context) error {
	done := s.cron.Stop().Done()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduler shutdown interrupted")
	}
}

// Status snapshots every registered job.
func (s *Scheduler) Status() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]JobStatus, len(s.jobs))
	for name, entry := range s.jobs {
		cronEntry := s.cron.Entry(entry.entryID)
		status := JobStatus{
			Name:      name,
			Scheduled: cronEntry.Valid(),
			Running:   entry.running.Load(),
			Next:      cronEntry.Next,
			Prev:      cronEntry.Prev,
		}
		if run, ok := s.jobLogger.LastRun(name); ok {
			status.LastRun = &run
		}
		statuses[name] = status
	}

	return statuses
}

// StatusString renders the snapshot for logs and the CLI.
func (s *Scheduler) StatusString() string {
	statuses := s.Status()

	out := ""
	for name, status := range statuses {
		out += fmt.Sprintf("%s: scheduled=%t running=%t next=%s\n",
			name, status.Scheduled, status.Running, status.Next.Format(time.RFC3339))
	}

	return out
}
