// Package scheduler re-enqueues monitored searches on their configured
// cadence.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/service"
)

// Scheduler polls for due monitors and schedules scrape jobs for them.
type Scheduler struct {
	monitors repository.MonitorRepository
	scrape   *service.ScrapeService
	interval time.Duration
	year     int
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. year is the tax year scheduled scrapes target.
func New(monitors repository.MonitorRepository, scrape *service.ScrapeService, interval time.Duration, year int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		monitors: monitors,
		scrape:   scrape,
		interval: interval,
		year:     year,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the scheduling loop until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Tick runs one scheduling pass. A monitor whose scrape is refused by the
// gate keeps its last run time so it is retried on the next pass instead of
// silently skipping a full interval.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.monitors.ListDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to list due monitors", "error", err)
		return
	}

	for _, m := range due {
		job, err := s.scrape.Schedule(ctx, m.SearchTerm, s.year, 0)
		if errors.Is(err, service.ErrAlreadyScheduled) {
			s.logger.Debug("monitor skipped, term already scheduled",
				"monitor_id", m.ID,
				"search_term", m.SearchTerm,
			)
			continue
		}
		if err != nil {
			s.logger.Error("failed to schedule monitored scrape",
				"monitor_id", m.ID,
				"search_term", m.SearchTerm,
				"error", err,
			)
			continue
		}

		if err := s.monitors.MarkRun(ctx, m.ID, job.ID, time.Now().UTC()); err != nil {
			s.logger.Error("failed to mark monitor run",
				"monitor_id", m.ID,
				"job_id", job.ID,
				"error", err,
			)
			continue
		}
		s.logger.Info("monitored scrape scheduled",
			"monitor_id", m.ID,
			"search_term", m.SearchTerm,
			"job_id", job.ID,
		)
	}
}
