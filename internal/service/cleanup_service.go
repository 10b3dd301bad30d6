package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// CleanupService periodically deletes terminal jobs and queue messages
// older than the retention window.
type CleanupService struct {
	jobs     repository.JobRepository
	broker   *queue.Broker
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCleanupService creates a cleanup service.
func NewCleanupService(jobs repository.JobRepository, broker *queue.Broker, maxAge, interval time.Duration, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		jobs:     jobs,
		broker:   broker,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RunOnce deletes jobs and queue messages past the retention window.
func (s *CleanupService) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	jobIDs, err := s.jobs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("job cleanup failed", "error", err)
	}

	messages, err := s.broker.Clean(ctx, cutoff)
	if err != nil {
		s.logger.Error("queue cleanup failed", "error", err)
	}

	if len(jobIDs) > 0 || messages > 0 {
		s.logger.Info("cleanup pass finished",
			"jobs_deleted", len(jobIDs),
			"messages_deleted", messages,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
}

// Start runs cleanup passes until Stop or context cancellation.
func (s *CleanupService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop and waits for it to exit.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
