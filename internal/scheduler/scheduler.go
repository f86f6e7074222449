package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked for every update cycle.
type TickFunc func(ctx context.Context, now time.Time) error

// Cron specs (with seconds field) for the clock-aligned triggers.
const (
	halfMinuteSpec     = "0,30 * * * * *"
	happyHourStartSpec = "0 30 17 * * *"
	happyHourEndSpec   = "0 30 19 * * *"
)

// Options tune scheduler behaviour. The periodic interval is the fallback
// cadence; the aligned triggers exist so fast-moving dispatch data is picked
// up at :00/:30 and the export price flips exactly at the Happy-Hour
// boundary instead of up to one interval late.
type Options struct {
	Interval          time.Duration
	AlignHalfMinute   bool           // trigger at :00 and :30 seconds of every minute
	HappyHourTriggers bool           // trigger at 17:30:00 and 19:30:00 local
	Location          *time.Location // timezone for clock-aligned triggers
	StartupDelay      time.Duration
}

// Scheduler multiplexes timer and clock-aligned triggers into a single
// serialised cycle stream. A trigger that fires while a cycle is running is
// coalesced, never queued behind it.
type Scheduler struct {
	opts     Options
	logger   zerolog.Logger
	requests chan time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		requests: make(chan time.Time, 1),
	}
}

// Trigger requests a cycle. Non-blocking; concurrent requests coalesce into
// the single buffered slot.
func (s *Scheduler) Trigger() {
	select {
	case s.requests <- time.Now():
	default:
	}
}

// Run blocks, invoking the tick function for each coalesced trigger until
// ctx is cancelled. The first cycle runs immediately after StartupDelay.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.AlignHalfMinute || s.opts.HappyHourTriggers {
		c := cron.New(cron.WithSeconds(), cron.WithLocation(s.opts.Location))
		if s.opts.AlignHalfMinute {
			if _, err := c.AddFunc(halfMinuteSpec, s.Trigger); err != nil {
				return err
			}
		}
		if s.opts.HappyHourTriggers {
			for _, spec := range []string{happyHourStartSpec, happyHourEndSpec} {
				if _, err := c.AddFunc(spec, s.Trigger); err != nil {
					return err
				}
			}
		}
		c.Start()
		defer c.Stop()
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.Trigger()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Trigger()
		case now := <-s.requests:
			s.logger.Debug().Time("trigger", now).Msg("executing update cycle")
			if err := tick(ctx, now); err != nil {
				s.logger.Error().Err(err).Time("trigger", now).Msg("update cycle failed")
			}
		}
	}
}
