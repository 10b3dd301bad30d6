package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/service"
)

// ScrapeHandler handles scrape job endpoints.
type ScrapeHandler struct {
	scrape *service.ScrapeService
	export *service.ExportService
}

// NewScrapeHandler creates a scrape handler. export may be nil when object
// storage is not configured.
func NewScrapeHandler(scrape *service.ScrapeService, export *service.ExportService) *ScrapeHandler {
	return &ScrapeHandler{scrape: scrape, export: export}
}

// CreateScrapeInput is a scrape scheduling request.
type CreateScrapeInput struct {
	Body struct {
		SearchTerm string `json:"search_term" minLength:"1" example:"smith" doc:"Owner name or term to search the appraisal roll for"`
		Year       int    `json:"year,omitempty" minimum:"0" example:"2026" doc:"Tax year; 0 selects the configured default"`
		Priority   int    `json:"priority,omitempty" minimum:"0" maximum:"10" example:"5" doc:"Queue priority, 1 is highest; 0 selects the default"`
	}
}

// CreateScrapeOutput returns the created job.
type CreateScrapeOutput struct {
	Body models.ScrapeJob
}

// CreateScrape schedules a scrape job for a search term.
func (h *ScrapeHandler) CreateScrape(ctx context.Context, input *CreateScrapeInput) (*CreateScrapeOutput, error) {
	job, err := h.scrape.Schedule(ctx, input.Body.SearchTerm, input.Body.Year, input.Body.Priority)
	if errors.Is(err, service.ErrAlreadyScheduled) {
		return nil, huma.Error409Conflict("a scrape for this term is already scheduled or in flight")
	}
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &CreateScrapeOutput{Body: *job}, nil
}

// GetJobInput identifies a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput returns one job.
type GetJobOutput struct {
	Body models.ScrapeJob
}

// GetJob returns a scrape job by ID.
func (h *ScrapeHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.scrape.GetJob(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	return &GetJobOutput{Body: *job}, nil
}

// ListJobsInput filters the job list.
type ListJobsInput struct {
	Status string `query:"status" enum:"pending,processing,completed,failed," doc:"Filter by job status"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Page size"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
}

// ListJobsOutput returns a page of jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []*models.ScrapeJob `json:"jobs"`
	}
}

// ListJobs returns scrape jobs, newest first.
func (h *ScrapeHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.scrape.ListJobs(ctx, models.JobStatus(input.Status), input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs")
	}

	out := &ListJobsOutput{}
	out.Body.Jobs = jobs
	if out.Body.Jobs == nil {
		out.Body.Jobs = []*models.ScrapeJob{}
	}
	return out, nil
}

// ExportInput names the search term to export.
type ExportInput struct {
	Body struct {
		SearchTerm string `json:"search_term" minLength:"1" doc:"Search term whose stored properties are exported"`
	}
}

// ExportOutput describes the written export object.
type ExportOutput struct {
	Body struct {
		Key   string `json:"key" doc:"Object key in the export bucket"`
		Count int    `json:"count" doc:"Number of properties exported"`
	}
}

// Export writes every stored property for a search term to object storage.
func (h *ScrapeHandler) Export(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	if h.export == nil {
		return nil, huma.Error503ServiceUnavailable("object storage is not configured")
	}

	key, count, err := h.export.ExportSearchTerm(ctx, input.Body.SearchTerm)
	if err != nil {
		return nil, huma.Error500InternalServerError("export failed")
	}

	out := &ExportOutput{}
	out.Body.Key = key
	out.Body.Count = count
	return out, nil
}
