// Package service holds the application services that sit between the HTTP
// handlers and the storage, queue, and upstream layers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parcelpulse/appraisal-api/internal/gate"
	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// ErrAlreadyScheduled is returned when the scheduling gate refuses a term
// that was enqueued recently or is still in flight.
var ErrAlreadyScheduled = errors.New("search term already scheduled")

// ScrapeService creates scrape jobs and enqueues them for the workers.
type ScrapeService struct {
	jobs        repository.JobRepository
	broker      *queue.Broker
	gate        *gate.Gate
	defaultYear int
	logger      *slog.Logger
}

// NewScrapeService creates a scrape service. defaultYear is used when a
// request does not name a tax year.
func NewScrapeService(jobs repository.JobRepository, broker *queue.Broker, g *gate.Gate, defaultYear int, logger *slog.Logger) *ScrapeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScrapeService{
		jobs:        jobs,
		broker:      broker,
		gate:        g,
		defaultYear: defaultYear,
		logger:      logger,
	}
}

// Schedule validates the request, checks the politeness gate, records a
// pending job, and enqueues it. Year 0 selects the configured default.
func (s *ScrapeService) Schedule(ctx context.Context, searchTerm string, year, priority int) (*models.ScrapeJob, error) {
	searchTerm = strings.TrimSpace(searchTerm)
	if searchTerm == "" {
		return nil, fmt.Errorf("search term is required")
	}
	if year == 0 {
		year = s.defaultYear
	}
	if priority == 0 {
		priority = queue.DefaultPriority
	}

	if !s.gate.CanSchedule(ctx, searchTerm, year) {
		return nil, ErrAlreadyScheduled
	}

	now := time.Now().UTC()
	job := &models.ScrapeJob{
		ID:         ulid.Make().String(),
		SearchTerm: searchTerm,
		Year:       year,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	body, err := json.Marshal(models.ScrapePayload{
		JobID:      job.ID,
		SearchTerm: searchTerm,
		Year:       year,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if _, err := s.broker.Enqueue(ctx, string(body), gate.Fingerprint(searchTerm, year), priority); err != nil {
		// The job row exists but nothing will process it; fail it so the
		// term is not stuck behind a phantom job.
		job.Status = models.JobStatusFailed
		job.Error = "failed to enqueue job"
		if updateErr := s.jobs.Update(ctx, job); updateErr != nil {
			s.logger.Error("failed to fail orphaned job", "job_id", job.ID, "error", updateErr)
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.gate.RecordScheduled(searchTerm, year)
	s.logger.Info("scrape job scheduled",
		"job_id", job.ID,
		"search_term", searchTerm,
		"year", year,
		"priority", priority,
	)
	return job, nil
}

// GetJob returns a job by ID, or nil if absent.
func (s *ScrapeService) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs returns jobs, optionally filtered by status.
func (s *ScrapeService) ListJobs(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.ScrapeJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.List(ctx, status, limit, offset)
}
