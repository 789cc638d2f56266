// Package sweep provides a cron-driven safety net that periodically asks the
// reminder engine to re-evaluate every tracked session, catching sessions
// whose idle event was missed or whose timer was lost across a reconnect.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Sweeper is the part of the reminder engine the scheduler drives.
type Sweeper interface {
	RequestSweep()
}

// Config holds the dependencies for the sweep scheduler.
type Config struct {
	Expr   string // 5-field cron expression; empty disables the scheduler
	Engine Sweeper
	Logger *slog.Logger
}

// Scheduler fires the reminder engine's sweep on a cron schedule.
type Scheduler struct {
	expr   string
	engine Sweeper
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. It returns an error if the cron
// expression does not parse.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Expr == "" {
		return nil, fmt.Errorf("sweep: empty cron expression")
	}
	if _, err := cronParser.Parse(cfg.Expr); err != nil {
		return nil, fmt.Errorf("sweep: invalid cron expression %q: %w", cfg.Expr, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		expr:   cfg.Expr,
		engine: cfg.Engine,
		logger: logger,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweep scheduler started", "cron_expr", s.expr)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweep scheduler stopped")
}

// loop sleeps until the next due time, fires a sweep, and repeats.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next, err := NextRunTime(s.expr, time.Now())
		if err != nil {
			// Expression was validated at construction; this is unreachable
			// short of a clock anomaly.
			s.logger.Error("sweep: failed to compute next run time", "cron_expr", s.expr, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.engine.RequestSweep()
			s.logger.Debug("sweep fired", "next_run_at", next)
		}
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
