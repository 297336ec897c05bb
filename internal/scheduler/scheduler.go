package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"alertcpl/internal/logging"
)

// TickFunc is invoked on every interval with the tick's scheduled time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler drives periodic reconciliation cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// ErrInvalidInterval is returned by New for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Scheduler{
		opts:   opts,
		logger: logging.Component(logger, "scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks, invoking tick on each interval until ctx is cancelled. Ticks never
// overlap: a slow tick delays the next one instead of stacking up.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.now())
	}

	next := s.nextTick(s.now())
	for {
		now := s.now()
		if next.Before(now) {
			next = s.nextTick(now)
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		s.fire(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("tick", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
