package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/service"
)

// MonitorHandler handles monitored search endpoints.
type MonitorHandler struct {
	monitors *service.MonitorService
}

// NewMonitorHandler creates a monitor handler.
func NewMonitorHandler(monitors *service.MonitorService) *MonitorHandler {
	return &MonitorHandler{monitors: monitors}
}

// CreateMonitorInput registers a search term for periodic re-scraping.
type CreateMonitorInput struct {
	Body struct {
		SearchTerm string `json:"search_term" minLength:"1" example:"smith" doc:"Search term to monitor"`
		Frequency  string `json:"frequency,omitempty" enum:"hourly,daily,weekly,monthly," example:"daily" doc:"Re-scrape cadence, default daily"`
		Enabled    *bool  `json:"enabled,omitempty" doc:"Whether the monitor runs, default true"`
	}
}

// CreateMonitorOutput returns the created monitor.
type CreateMonitorOutput struct {
	Body models.MonitoredSearch
}

// CreateMonitor registers a monitored search.
func (h *MonitorHandler) CreateMonitor(ctx context.Context, input *CreateMonitorInput) (*CreateMonitorOutput, error) {
	enabled := true
	if input.Body.Enabled != nil {
		enabled = *input.Body.Enabled
	}

	m, err := h.monitors.Create(ctx, input.Body.SearchTerm, models.MonitorFrequency(input.Body.Frequency), enabled)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &CreateMonitorOutput{Body: *m}, nil
}

// ListMonitorsOutput returns all monitors.
type ListMonitorsOutput struct {
	Body struct {
		Monitors []*models.MonitoredSearch `json:"monitors"`
	}
}

// ListMonitors returns every monitored search.
func (h *MonitorHandler) ListMonitors(ctx context.Context, _ *struct{}) (*ListMonitorsOutput, error) {
	monitors, err := h.monitors.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list monitors")
	}

	out := &ListMonitorsOutput{}
	out.Body.Monitors = monitors
	if out.Body.Monitors == nil {
		out.Body.Monitors = []*models.MonitoredSearch{}
	}
	return out, nil
}

// GetMonitorInput identifies a monitor.
type GetMonitorInput struct {
	ID string `path:"id" doc:"Monitor ID"`
}

// GetMonitorOutput returns one monitor.
type GetMonitorOutput struct {
	Body models.MonitoredSearch
}

// GetMonitor returns a monitored search by ID.
func (h *MonitorHandler) GetMonitor(ctx context.Context, input *GetMonitorInput) (*GetMonitorOutput, error) {
	m, err := h.monitors.Get(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load monitor")
	}
	if m == nil {
		return nil, huma.Error404NotFound("monitor not found")
	}
	return &GetMonitorOutput{Body: *m}, nil
}

// UpdateMonitorInput changes a monitor's cadence or enabled flag.
type UpdateMonitorInput struct {
	ID   string `path:"id" doc:"Monitor ID"`
	Body struct {
		Frequency *string `json:"frequency,omitempty" enum:"hourly,daily,weekly,monthly" doc:"New cadence"`
		Enabled   *bool   `json:"enabled,omitempty" doc:"New enabled flag"`
	}
}

// UpdateMonitorOutput returns the updated monitor.
type UpdateMonitorOutput struct {
	Body models.MonitoredSearch
}

// UpdateMonitor patches a monitored search.
func (h *MonitorHandler) UpdateMonitor(ctx context.Context, input *UpdateMonitorInput) (*UpdateMonitorOutput, error) {
	var frequency *models.MonitorFrequency
	if input.Body.Frequency != nil {
		f := models.MonitorFrequency(*input.Body.Frequency)
		frequency = &f
	}

	m, err := h.monitors.Update(ctx, input.ID, frequency, input.Body.Enabled)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if m == nil {
		return nil, huma.Error404NotFound("monitor not found")
	}
	return &UpdateMonitorOutput{Body: *m}, nil
}

// DeleteMonitorInput identifies the monitor to delete.
type DeleteMonitorInput struct {
	ID string `path:"id" doc:"Monitor ID"`
}

// DeleteMonitor removes a monitored search.
func (h *MonitorHandler) DeleteMonitor(ctx context.Context, input *DeleteMonitorInput) (*struct{}, error) {
	if err := h.monitors.Delete(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete monitor")
	}
	return &struct{}{}, nil
}
