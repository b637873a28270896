package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/schedule"
)

// defaultTick is how often the scheduler checks whether the cron expression
// is due. Minute granularity only needs a fraction of a minute.
const defaultTick = 30 * time.Second

// Scheduler fires backup runs whenever the cron expression becomes due.
// The due check is once-per-minute latched, so a run that finishes within
// the same minute never triggers a second one.
type Scheduler struct {
	engine *Engine
	sched  *schedule.Schedule
	tick   time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastFired time.Time
}

// NewScheduler creates a scheduler for the engine's configured cron
// expression. The expression must already be validated.
func NewScheduler(e *Engine, sched *schedule.Schedule) *Scheduler {
	return &Scheduler{
		engine: e,
		sched:  sched,
		tick:   defaultTick,
		now:    time.Now,
	}
}

// Start launches the scheduling loop. Calling Start on a running scheduler
// is a no-op. The loop stops when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	if next := s.sched.Next(s.now()); !next.IsZero() {
		plog.Info("Scheduler started", "next_trigger", next.Format(time.RFC3339))
	} else {
		plog.Warn("Scheduler started but the expression never matches")
	}

	// The loop gets its own reference to the channel: Stop nils the field
	// under the mutex, so the goroutine must never read it.
	go s.loop(runCtx, done)
}

// Stop halts the scheduling loop and waits for it to exit. A run already in
// flight is canceled through its context. Calling Stop on a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	plog.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireIfDue(ctx)
		}
	}
}

// fireIfDue runs a backup when the schedule is due. The engine's in-flight
// guard makes an overlapping trigger a no-op, and the latch is advanced
// regardless so a slow run is not retried within the same minute.
func (s *Scheduler) fireIfDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := s.sched.IsDue(s.lastFired, now)
	if due {
		s.lastFired = now
	}
	s.mu.Unlock()

	if !due {
		return
	}

	plog.Info("Schedule is due, starting backup", "at", now.Format(time.RFC3339))
	if _, err := s.engine.RunBackup(ctx, TriggerSchedule); err != nil {
		// Already logged by the engine; ErrBusy just means a manual run won.
		return
	}
	if next := s.sched.Next(now); !next.IsZero() {
		plog.Info("Next scheduled backup", "at", next.Format(time.RFC3339))
	}
}
