package superloop

import (
	"context"
	"time"

	"github.com/robfig/cron"
)

// ScheduleFunc paces the cycles of one generation. It is invoked once per
// generation and returns the wait func called between cycles; the wait
// blocks until the next cycle may run and reports false once the generation
// was killed, so pacing never delays a stop beyond the current wait.
type ScheduleFunc func() func(ctx context.Context) bool

// BySchedule sets a custom pacing func. Without any schedule the loop cycles
// back to back.
func (l *Loop) BySchedule(s ScheduleFunc) *Loop {
	l.schedule = s
	return l
}

// Every paces the loop to wait period after each cycle completes.
func (l *Loop) Every(period time.Duration) *Loop {
	l.schedule = func() func(ctx context.Context) bool {
		return func(ctx context.Context) bool {
			return sleep(ctx, period)
		}
	}
	return l
}

// ByTicker paces the loop to a fixed rate of one cycle per period,
// regardless of how long each cycle takes. Cycles that overrun the period
// are followed immediately by the next one, missed slots are not replayed.
func (l *Loop) ByTicker(period time.Duration) *Loop {
	l.schedule = func() func(ctx context.Context) bool {
		next := time.Now().Add(period)
		return func(ctx context.Context) bool {
			d := time.Until(next)
			if d <= 0 {
				// overran the slot, realign to now
				next = time.Now().Add(period)
				return ctx.Err() == nil
			}
			next = next.Add(period)
			return sleep(ctx, d)
		}
	}
	return l
}

// ByCronSpec paces the loop by a cron schedule using the robfig/cron parser.
// An invalid spec panics, shit happens.
func (l *Loop) ByCronSpec(spec string) *Loop {
	s, err := cron.Parse(spec)
	if err != nil {
		panic("parse cron spec fatal error: " + err.Error())
	}

	l.schedule = func() func(ctx context.Context) bool {
		return func(ctx context.Context) bool {
			now := time.Now()
			return sleep(ctx, s.Next(now).Sub(now))
		}
	}
	return l
}

// sleep waits d, returning false when ctx is canceled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
