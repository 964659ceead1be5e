package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Runner executes one attempt.
type Runner interface {
	RunAttempt(ctx context.Context, logger *slog.Logger) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, logger *slog.Logger) Outcome

func (f RunnerFunc) RunAttempt(ctx context.Context, logger *slog.Logger) Outcome {
	return f(ctx, logger)
}

// Notifier is told about every failed attempt. Its errors are only logged.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

// Scheduler runs an attempt at startup and then once per interval. Each
// attempt gets half the interval; an attempt that misses its deadline is
// abandoned and ticks are skipped until it has actually returned.
type Scheduler struct {
	runner   Runner
	notifier Notifier
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	trigger  chan struct{}

	// abandoned is closed when the last timed-out attempt returns
	abandoned chan struct{}
}

// NewScheduler creates a scheduler. notifier may be nil.
func NewScheduler(runner Runner, interval time.Duration, notifier Notifier, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		notifier: notifier,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Timeout returns the per-attempt deadline
func (s *Scheduler) Timeout() time.Duration { return s.timeout }

// Trigger asks for an extra attempt. Requests made while one is already
// pending are merged into it. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run drives attempts until ctx is cancelled. Attempt failures never end
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "attempt_timeout", s.timeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if s.abandoned != nil {
				s.logger.Info("waiting for abandoned attempt to return")
				<-s.abandoned
			}
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case <-s.trigger:
			s.logger.Info("extra attempt requested")
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	logger := s.logger.With("attempt", uuid.New().String())
	start := time.Now()
	o := s.RunOnce(ctx, logger)
	if ctx.Err() != nil && o.Status != StatusSkipped {
		logger.Info("attempt interrupted by shutdown")
		return
	}
	s.report(ctx, logger, o, time.Since(start))
}

// RunOnce runs a single attempt bounded by the scheduler's timeout.
func (s *Scheduler) RunOnce(ctx context.Context, logger *slog.Logger) Outcome {
	if s.abandoned != nil {
		select {
		case <-s.abandoned:
			s.abandoned = nil
		default:
			return Skipped()
		}
	}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	var o Outcome
	go func() {
		defer close(done)
		o = s.runner.RunAttempt(actx, logger)
	}()

	select {
	case <-done:
		return o
	case <-actx.Done():
		s.abandoned = done
		if err := ctx.Err(); err != nil {
			return Failure(err)
		}
		return TimedOut(s.timeout)
	}
}

func (s *Scheduler) report(ctx context.Context, logger *slog.Logger, o Outcome, elapsed time.Duration) {
	if !o.Failed() {
		if o.Status == StatusSkipped {
			logger.Warn("previous attempt still running, tick skipped", "result", o.Status.String())
			return
		}
		logger.Info("attempt finished", "result", o.Status.String(), "duration", elapsed)
		return
	}

	logger.Error("attempt failed",
		"result", o.Status.String(),
		"duration", elapsed,
		"conflicts", len(o.Conflicts),
		"error", o.Err)

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, o); err != nil {
		logger.Warn("failure notification failed", "error", err)
	}
}
