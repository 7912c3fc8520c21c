package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler is the periodic driver: it runs one sync pass immediately at
// startup, then every interval_secs thereafter, sampled fresh from the
// Center on each iteration so a live update_config takes effect on the
// next cycle rather than the current one.
//
// Exclusivity across passes -- including a concurrent TriggerSync from
// the Management Core -- is enforced by a single 1-permit semaphore, the
// literal reading of "single-sync mutex" in §4.5. A caller that contends
// on a busy semaphore blocks rather than is rejected: queuing is the
// simplest choice that still guarantees at most one pass runs at a time.
type Scheduler struct {
	center *Center
	sem    *semaphore.Weighted
}

// NewScheduler returns a Scheduler bound to center.
func NewScheduler(center *Center) *Scheduler {
	return &Scheduler{center: center, sem: semaphore.NewWeighted(1)}
}

// Run blocks, driving sync passes until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.runOnce(ctx); err != nil {
		slog.Error("sync pass failed", "error", err)
	}

	for {
		interval := time.Duration(s.center.ConfigSnapshot().IntervalSecs) * time.Second

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			if err := s.runOnce(ctx); err != nil {
				slog.Error("sync pass failed", "error", err)
			}
		}
	}
}

// TriggerSync runs one pass immediately, blocking until it completes or a
// pass already in flight finishes and this one runs. It is the
// Management Core's entry point for an on-demand sync.
func (s *Scheduler) TriggerSync(ctx context.Context) error {
	return s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	return s.center.SyncOnce(ctx)
}
