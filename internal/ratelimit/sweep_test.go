package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestSweepJob(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	now := fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{MaxRequests: 1, Window: time.Minute}
	_ = l.Check(1, 0, cfg)

	job := NewSweepJob(l, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if job.Name() != "ratelimit_sweep" {
		t.Fatalf("job name = %q", job.Name())
	}
	if job.Schedule() != "*/5 * * * *" {
		t.Fatalf("job schedule = %q", job.Schedule())
	}

	*now = now.Add(2 * time.Minute)
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := l.Stats().TrackedUsers; got != 0 {
		t.Fatalf("TrackedUsers = %d after sweep, want 0", got)
	}
}
