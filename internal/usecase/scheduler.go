package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CycleScheduler fires a full pipeline pass on a fixed interval and sweeps
// the pools for expired leases on a faster tick. Passes never overlap: a
// firing that arrives while a pass is in flight is skipped, and Stop lets
// the in-flight pass finish.
type CycleScheduler struct {
	orch            *Orchestrator
	cycleInterval   time.Duration
	reclaimInterval time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running sync.Mutex // held while a pass is in flight
}

// NewCycleScheduler wires the orchestrator with its timing configuration.
func NewCycleScheduler(orch *Orchestrator, cycleInterval, reclaimInterval time.Duration, logger *slog.Logger) *CycleScheduler {
	return &CycleScheduler{
		orch:            orch,
		cycleInterval:   cycleInterval,
		reclaimInterval: reclaimInterval,
		logger:          logger,
	}
}

// Start launches the background timers. Calling Start on a started
// scheduler is a no-op.
func (s *CycleScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)
}

func (s *CycleScheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	cycle := time.NewTicker(s.cycleInterval)
	defer cycle.Stop()
	reclaim := time.NewTicker(s.reclaimInterval)
	defer reclaim.Stop()

	// First pass fires immediately, matching a fresh deploy catching up.
	s.RunOnce(ctx)

	for {
		select {
		case <-cycle.C:
			s.RunOnce(ctx)
		case t := <-reclaim.C:
			s.orch.Reclaim(t)
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

// RunOnce executes a single synchronous pass unless one is already in
// flight, in which case it returns immediately.
func (s *CycleScheduler) RunOnce(ctx context.Context) {
	if !s.running.TryLock() {
		s.debug("pass already in flight, skipping trigger")
		return
	}
	defer s.running.Unlock()

	if _, err := s.orch.RunCycle(ctx); err != nil {
		// Pass-fatal error; persisted state lets the next cycle retry.
		if s.logger != nil {
			s.logger.Error("pass aborted", "error", err)
		}
	}
}

// Stop halts the timers. The in-flight pass, if any, is allowed to finish;
// Stop returns once the background loop has exited.
func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	s.running.Lock()
	s.running.Unlock()
}

func (s *CycleScheduler) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
