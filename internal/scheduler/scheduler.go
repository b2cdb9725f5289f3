// Package scheduler triggers live polling on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"news_bot/internal/ingest"
	"news_bot/internal/metrics"
)

// DefaultSchedule polls once a minute.
const DefaultSchedule = "@every 1m"

// Poller runs one live ingestion pass.
type Poller interface {
	Poll(ctx context.Context) (ingest.Stats, error)
}

// Scheduler runs Poll periodically. At most one pass runs at a time; a
// tick that fires while the previous pass is still running is skipped.
type Scheduler struct {
	poller   Poller
	schedule string
	log      *slog.Logger

	running atomic.Bool
}

// New creates a Scheduler. An empty schedule means DefaultSchedule.
func New(p Poller, schedule string, log *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{poller: p, schedule: schedule, log: log}
}

// RunOnce performs a single pass unless one is already in progress, and
// reports whether it ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ObservePollSkipped()
		s.log.Warn("previous poll still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	if _, err := s.poller.Poll(ctx); err != nil {
		s.log.Error("poll", "error", err)
	}
	return true
}

// Run polls immediately and then on every tick, blocking until ctx is
// cancelled. It waits for an in-flight pass before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.schedule, err)
	}

	s.log.Info("scheduler started", "schedule", s.schedule)

	var initial sync.WaitGroup
	initial.Go(func() { s.RunOnce(ctx) })
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	initial.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
