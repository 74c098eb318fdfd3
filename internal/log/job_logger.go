package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobRun is the recorded outcome of a single scheduled job run.
type JobRun struct {
	Job        string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Err        string
}

// OK reports whether the run completed without an error.
func (r JobRun) OK() bool { return r.Err == "" }

// JobLogger writes start/end markers for scheduled job runs and retains the
// most recent outcome per job for health reporting.
type JobLogger struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	last map[string]JobRun
}

func NewJobLogger(logger *zerolog.Logger) *JobLogger {
	l := logger.With().Str("channel", "scheduler").Logger()
	return &JobLogger{
		logger: l,
		last:   make(map[string]JobRun),
	}
}

// JobStarted logs the start marker and returns the start time.
func (l *JobLogger) JobStarted(job string) time.Time {
	started := time.Now()
	l.logger.Info().Str("job", job).Msg("job started")

	return started
}

// JobFinished logs the end marker and records the run outcome.
func (l *JobLogger) JobFinished(job string, startedAt time.Time, err error) {
	finished := time.Now()
	run := JobRun{
		Job:        job,
		StartedAt:  startedAt,
		FinishedAt: finished,
		Duration:   finished.Sub(startedAt),
	}

	if err != nil {
		run.Err = err.Error()
		l.logger.Error().Err(err).Str("job", job).Dur("duration", run.Duration).Msg("job failed")
	} else {
		l.logger.Info().Str("job", job).Dur("duration", run.Duration).Msg("job finished")
	}

	l.mu.Lock()
	l.last[job] = run
	l.mu.Unlock()
}

// LastRun returns the most recent recorded run for a job, if any.
func (l *JobLogger) LastRun(job string) (JobRun, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run, ok := l.last[job]
	return run, ok
}
