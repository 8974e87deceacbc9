package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher is implemented by Controller.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler runs periodic refreshes on a standard cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewScheduler registers a refresh job for the given cron expression.
// Each run is bounded by timeout.
func NewScheduler(r Refresher, schedule string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		refresher: r,
		timeout:   timeout,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("refresh scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("refresh still running at shutdown")
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.refresher.Refresh(ctx)
	switch {
	case errors.Is(err, ErrStaleResponse):
		s.logger.Info("scheduled refresh superseded", "duration", time.Since(start))
	case err != nil:
		s.logger.Error("scheduled refresh failed", "error", err, "duration", time.Since(start))
	default:
		s.logger.Info("scheduled refresh complete", "duration", time.Since(start))
	}
}
