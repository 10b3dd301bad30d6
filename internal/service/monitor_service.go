package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// MonitorService manages monitored searches.
type MonitorService struct {
	monitors repository.MonitorRepository
	logger   *slog.Logger
}

// NewMonitorService creates a monitor service.
func NewMonitorService(monitors repository.MonitorRepository, logger *slog.Logger) *MonitorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorService{monitors: monitors, logger: logger}
}

// Create registers a new monitored search. Frequency defaults to daily.
func (s *MonitorService) Create(ctx context.Context, searchTerm string, frequency models.MonitorFrequency, enabled bool) (*models.MonitoredSearch, error) {
	searchTerm = strings.TrimSpace(searchTerm)
	if searchTerm == "" {
		return nil, fmt.Errorf("search term is required")
	}
	if frequency == "" {
		frequency = models.FrequencyDaily
	}
	if !frequency.Valid() {
		return nil, fmt.Errorf("invalid frequency %q", frequency)
	}

	now := time.Now().UTC()
	m := &models.MonitoredSearch{
		ID:         ulid.Make().String(),
		SearchTerm: searchTerm,
		Frequency:  frequency,
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.monitors.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	s.logger.Info("monitor created", "monitor_id", m.ID, "search_term", searchTerm, "frequency", frequency)
	return m, nil
}

// Get returns a monitor by ID, or nil if absent.
func (s *MonitorService) Get(ctx context.Context, id string) (*models.MonitoredSearch, error) {
	return s.monitors.GetByID(ctx, id)
}

// List returns all monitors.
func (s *MonitorService) List(ctx context.Context) ([]*models.MonitoredSearch, error) {
	return s.monitors.List(ctx)
}

// Update changes a monitor's frequency or enabled flag. Nil fields are left
// unchanged. Returns nil when the monitor does not exist.
func (s *MonitorService) Update(ctx context.Context, id string, frequency *models.MonitorFrequency, enabled *bool) (*models.MonitoredSearch, error) {
	m, err := s.monitors.GetByID(ctx, id)
	if err != nil || m == nil {
		return m, err
	}

	if frequency != nil {
		if !frequency.Valid() {
			return nil, fmt.Errorf("invalid frequency %q", *frequency)
		}
		m.Frequency = *frequency
	}
	if enabled != nil {
		m.Enabled = *enabled
	}

	if err := s.monitors.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to update monitor: %w", err)
	}
	return m, nil
}

// Delete removes a monitor.
func (s *MonitorService) Delete(ctx context.Context, id string) error {
	return s.monitors.Delete(ctx, id)
}
