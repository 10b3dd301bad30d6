// Package worker runs the scrape job consumers. Each worker claims queue
// messages, drives a job through the fetch and upsert pipeline, and reports
// the outcome back to the broker for retry or completion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/metrics"
	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/upstream"
)

// Progress milestones reported on the job record.
const (
	progressClaimed  = 10
	progressFetched  = 30
	progressUpserted = 70
	progressDone     = 100
)

// Fetcher pulls all records for a search term from the upstream service.
type Fetcher interface {
	Fetch(ctx context.Context, token, term string, year int) (*upstream.SearchResult, error)
}

// TokenSource provides the upstream bearer token.
type TokenSource interface {
	Current() (string, bool)
	RefreshNow(ctx context.Context) (string, error)
}

// Pool runs a fixed number of scrape workers against the broker.
type Pool struct {
	broker     *queue.Broker
	jobs       repository.JobRepository
	properties repository.PropertyRepository
	fetcher    Fetcher
	tokens     TokenSource

	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a worker pool.
func New(broker *queue.Broker, jobs repository.JobRepository, properties repository.PropertyRepository,
	fetcher Fetcher, tokens TokenSource, concurrency int, pollInterval, jobTimeout time.Duration,
	logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		broker:       broker,
		jobs:         jobs,
		properties:   properties,
		fetcher:      fetcher,
		tokens:       tokens,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the workers. Recovery of stale state happens first so a
// restart does not strand claimed messages or processing jobs.
func (p *Pool) Start(ctx context.Context) {
	if reclaimed, err := p.broker.ReclaimStale(ctx, p.jobTimeout); err != nil {
		p.logger.Error("failed to reclaim stale messages", "error", err)
	} else if reclaimed > 0 {
		p.logger.Info("reclaimed stale queue messages", "count", reclaimed)
	}
	if failed, err := p.jobs.MarkStaleProcessingFailed(ctx, p.jobTimeout); err != nil {
		p.logger.Error("failed to mark stale jobs", "error", err)
	} else if failed > 0 {
		p.logger.Info("failed stale processing jobs", "count", failed)
	}

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", "concurrency", p.concurrency)
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker", id)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything available before sleeping again.
			for {
				msg, err := p.broker.Claim(ctx)
				if err != nil {
					logger.Error("failed to claim message", "error", err)
					break
				}
				if msg == nil {
					break
				}
				p.handle(ctx, logger, msg)

				select {
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// handle processes one claimed message and settles it with the broker.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, msg *queue.Message) {
	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.process(jobCtx, logger, msg)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := p.broker.Ack(ctx, msg.ID); ackErr != nil {
			logger.Error("failed to ack message", "message_id", msg.ID, "error", ackErr)
		}
		return
	}

	if !upstream.Retryable(err) {
		logger.Warn("job failed permanently", "message_id", msg.ID, "error", err)
		p.settleFailed(ctx, logger, msg, err)
		return
	}

	retried, retryErr := p.broker.Retry(ctx, msg.ID, err)
	if retryErr != nil {
		logger.Error("failed to schedule retry", "message_id", msg.ID, "error", retryErr)
		return
	}
	if retried {
		logger.Warn("job attempt failed, retry scheduled",
			"message_id", msg.ID,
			"attempt", msg.Attempts,
			"error", err,
		)
		return
	}

	// Attempts exhausted: the broker already moved the message to failed.
	p.failJobFromMessage(ctx, logger, msg, err)
}

// settleFailed moves the message to failed without further retries.
func (p *Pool) settleFailed(ctx context.Context, logger *slog.Logger, msg *queue.Message, cause error) {
	if err := p.broker.MoveToFailed(ctx, msg.ID, cause.Error()); err != nil {
		logger.Error("failed to move message to failed", "message_id", msg.ID, "error", err)
	}
	p.failJobFromMessage(ctx, logger, msg, cause)
}

// failJobFromMessage marks the job record failed with the classified error.
func (p *Pool) failJobFromMessage(ctx context.Context, logger *slog.Logger, msg *queue.Message, cause error) {
	var payload models.ScrapePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		logger.Error("unparseable payload on failed message", "message_id", msg.ID, "error", err)
		return
	}

	job, err := p.jobs.GetByID(ctx, payload.JobID)
	if err != nil || job == nil {
		logger.Error("job missing for failed message", "job_id", payload.JobID, "error", err)
		return
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = classify(cause)
	job.CompletedAt = &now
	if err := p.jobs.Update(ctx, job); err != nil {
		logger.Error("failed to update failed job", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(models.JobStatusFailed)).Inc()
}

// process runs the scrape pipeline for one message. A nil return means the
// job completed; any error is settled by the caller.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, msg *queue.Message) error {
	var payload models.ScrapePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		return upstream.NewError(upstream.KindValidationError, fmt.Sprintf("invalid payload: %v", err))
	}

	job, err := p.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		return upstream.WrapError(upstream.KindStoreError, fmt.Errorf("failed to load job: %w", err))
	}
	if job == nil {
		return upstream.NewError(upstream.KindValidationError, fmt.Sprintf("job %s not found", payload.JobID))
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusProcessing
	job.Progress = progressClaimed
	job.Attempts = msg.Attempts
	job.StartedAt = &now
	job.Error = ""
	if err := p.jobs.Update(ctx, job); err != nil {
		return upstream.WrapError(upstream.KindStoreError, fmt.Errorf("failed to mark job processing: %w", err))
	}

	logger.Info("processing scrape job",
		"job_id", job.ID,
		"search_term", payload.SearchTerm,
		"year", payload.Year,
		"attempt", msg.Attempts,
	)

	result, err := p.fetch(ctx, payload)
	if err != nil {
		return err
	}
	p.progress(ctx, logger, job.ID, progressFetched)

	scrapedAt := time.Now().UTC()
	inserted, updated, err := p.properties.UpsertBatch(ctx, upstream.MapRecords(result.Records, payload.SearchTerm, scrapedAt))
	if err != nil {
		return upstream.WrapError(upstream.KindStoreError, fmt.Errorf("failed to store records: %w", err))
	}
	metrics.RecordsUpserted.WithLabelValues("inserted").Add(float64(inserted))
	metrics.RecordsUpserted.WithLabelValues("updated").Add(float64(updated))
	p.progress(ctx, logger, job.ID, progressUpserted)

	completedAt := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Progress = progressDone
	job.ResultCount = len(result.Records)
	job.PageSizeUsed = result.PageSizeUsed
	job.CompletedAt = &completedAt
	if err := p.jobs.Update(ctx, job); err != nil {
		return upstream.WrapError(upstream.KindStoreError, fmt.Errorf("failed to complete job: %w", err))
	}

	metrics.JobsProcessed.WithLabelValues(string(models.JobStatusCompleted)).Inc()
	logger.Info("scrape job completed",
		"job_id", job.ID,
		"records", len(result.Records),
		"inserted", inserted,
		"updated", updated,
		"page_size", result.PageSizeUsed,
	)
	return nil
}

// fetch runs the upstream call, refreshing the token and retrying once
// inline when the upstream rejects it as expired.
func (p *Pool) fetch(ctx context.Context, payload models.ScrapePayload) (*upstream.SearchResult, error) {
	tok, ok := p.tokens.Current()
	if !ok {
		refreshed, err := p.tokens.RefreshNow(ctx)
		if err != nil {
			return nil, upstream.WrapError(upstream.KindNoToken, fmt.Errorf("no token and refresh failed: %w", err))
		}
		tok = refreshed
	}

	result, err := p.fetcher.Fetch(ctx, tok, payload.SearchTerm, payload.Year)
	if err == nil {
		return result, nil
	}
	if !upstream.IsKind(err, upstream.KindTokenExpired) {
		return nil, err
	}

	// One inline retry with a fresh token before giving the attempt up.
	tok, refreshErr := p.tokens.RefreshNow(ctx)
	if refreshErr != nil {
		return nil, upstream.WrapError(upstream.KindTokenExpired, fmt.Errorf("token refresh after expiry failed: %w", refreshErr))
	}
	return p.fetcher.Fetch(ctx, tok, payload.SearchTerm, payload.Year)
}

func (p *Pool) progress(ctx context.Context, logger *slog.Logger, jobID string, pct int) {
	if err := p.jobs.UpdateProgress(ctx, jobID, pct); err != nil {
		logger.Warn("failed to update job progress", "job_id", jobID, "progress", pct, "error", err)
	}
}

// classify renders the error string stored on the job. Classified errors
// already carry their kind prefix.
func classify(err error) string {
	return err.Error()
}
