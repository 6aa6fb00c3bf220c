package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
)

// Schedule is a named periodic task.
type Schedule struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

type scheduled struct {
	Schedule
	expr *cronexpr.Expression
}

// Scheduler fires schedules on their cron expressions. It is used when jobs
// run on the local backend; the Temporal backend registers server-side
// schedules instead.
type Scheduler struct {
	entries []scheduled
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler parses every schedule's expression.
func NewScheduler(schedules []Schedule, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{logger: logger.With().Str("component", "scheduler").Logger(), now: time.Now}
	for _, sc := range schedules {
		expr, err := cronexpr.Parse(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %s %q: %w", sc.Name, sc.Cron, err)
		}
		s.entries = append(s.entries, scheduled{Schedule: sc, expr: expr})
	}
	return s, nil
}

// Next returns when the named schedule fires after from. The zero time means
// the schedule is unknown or never fires again.
func (s *Scheduler) Next(name string, from time.Time) time.Time {
	for _, e := range s.entries {
		if e.Name == name {
			return e.expr.Next(from)
		}
	}
	return time.Time{}
}

// Start runs every schedule on its own goroutine until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for _, e := range s.entries {
		go s.loop(ctx, e)
	}
}

func (s *Scheduler) loop(ctx context.Context, e scheduled) {
	for {
		next := e.expr.Next(s.now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.logger.Info().Str("schedule", e.Name).Msg("running scheduled task")
		if err := e.Run(ctx); err != nil {
			s.logger.Error().Err(err).Str("schedule", e.Name).Msg("scheduled task failed")
		}
	}
}
