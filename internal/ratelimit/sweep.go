package ratelimit

import (
	"context"
	"log/slog"
)

// sweepSchedule runs the cleanup every five minutes.
const sweepSchedule = "*/5 * * * *"

// SweepJob adapts Limiter.Sweep to the cron scheduler's job interface.
type SweepJob struct {
	limiter *Limiter
	logger  *slog.Logger
}

// NewSweepJob creates the periodic cleanup job for a limiter.
func NewSweepJob(limiter *Limiter, logger *slog.Logger) *SweepJob {
	return &SweepJob{limiter: limiter, logger: logger}
}

func (j *SweepJob) Name() string     { return "ratelimit_sweep" }
func (j *SweepJob) Schedule() string { return sweepSchedule }

// Run removes fully-expired limiter entries.
func (j *SweepJob) Run(_ context.Context) error {
	if removed := j.limiter.Sweep(); removed > 0 {
		j.logger.Debug("rate limit sweep removed expired entries", "removed", removed)
	}
	return nil
}
