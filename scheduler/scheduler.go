// Package scheduler runs the claim cycle once a day at a configured local
// time, sleeping in between. Free offers rotate weekly; a daily check keeps
// the window comfortable without hammering the storefront.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc is one claim cycle. Errors are logged and the schedule continues;
// a failed run today must not cancel tomorrow's.
type RunFunc func(ctx context.Context) error

// Scheduler triggers a RunFunc daily at a fixed wall-clock time.
type Scheduler struct {
	hour    int
	minute  int
	run     RunFunc
	log     zerolog.Logger
	nowTime func() time.Time
}

// Option modifies a Scheduler.
type Option func(*Scheduler)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(s *Scheduler) { s.nowTime = now }
}

// New creates a scheduler firing daily at hour:minute local time.
func New(hour, minute int, run RunFunc, log zerolog.Logger, options ...Option) *Scheduler {
	s := &Scheduler{
		hour:    hour,
		minute:  minute,
		run:     run,
		log:     log,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NextRun returns the next hour:minute strictly after now, today or tomorrow.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start runs one cycle immediately, then keeps firing on schedule until the
// context is cancelled. Always returns nil after a clean shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.invoke(ctx)

	for {
		now := s.nowTime()
		next := s.NextRun(now)
		s.log.Info().Time("next_run", next).Msg("sleeping until next cycle")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
		}

		s.invoke(ctx)
	}
}

func (s *Scheduler) invoke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := s.nowTime()
	if err := s.run(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled run failed")
		return
	}
	s.log.Info().Dur("took", s.nowTime().Sub(started)).Msg("scheduled run finished")
}
