// Package models defines the domain models for the appraisal scraper.
package models

import (
	"time"
)

// JobStatus represents the status of a scrape job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ScrapeJob represents one unit of scraping work for a search term.
// Retries create new attempts on the same job ID; the record tracks the
// latest attempt's progress and outcome.
type ScrapeJob struct {
	ID           string     `json:"id"`
	SearchTerm   string     `json:"search_term"`
	Year         int        `json:"year"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"` // 0-100, coarse milestones
	ResultCount  int        `json:"result_count"`
	PageSizeUsed int        `json:"page_size_used,omitempty"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Property is a scraped appraisal record. PropertyID is the upstream
// identifier and is unique across the store; re-scrapes overwrite all
// mutable fields while CreatedAt is preserved.
type Property struct {
	PropertyID      string    `json:"property_id"`
	Name            string    `json:"name"`
	PropType        string    `json:"prop_type"`
	City            *string   `json:"city,omitempty"`
	PropertyAddress string    `json:"property_address"`
	AssessedValue   int64     `json:"assessed_value"`
	AppraisedValue  int64     `json:"appraised_value"`
	GeoID           *string   `json:"geo_id,omitempty"`
	Description     *string   `json:"description,omitempty"`
	SearchTerm      string    `json:"search_term"`
	ScrapedAt       time.Time `json:"scraped_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MonitorFrequency is the re-enqueue cadence of a monitored search.
type MonitorFrequency string

const (
	FrequencyHourly  MonitorFrequency = "hourly"
	FrequencyDaily   MonitorFrequency = "daily"
	FrequencyWeekly  MonitorFrequency = "weekly"
	FrequencyMonthly MonitorFrequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f MonitorFrequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Interval returns the duration between runs for the frequency.
// Monthly is approximated as 30 days.
func (f MonitorFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// MonitoredSearch is a search term that is periodically re-enqueued.
type MonitoredSearch struct {
	ID         string           `json:"id"`
	SearchTerm string           `json:"search_term"`
	Frequency  MonitorFrequency `json:"frequency"`
	Enabled    bool             `json:"enabled"`
	LastRunAt  *time.Time       `json:"last_run_at,omitempty"`
	LastJobID  string           `json:"last_job_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Due reports whether the monitor should run at the given instant.
func (m *MonitoredSearch) Due(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	if m.LastRunAt == nil {
		return true
	}
	return now.Sub(*m.LastRunAt) >= m.Frequency.Interval()
}

// ScrapePayload is the queue message body for a scrape job.
type ScrapePayload struct {
	JobID      string `json:"job_id"`
	SearchTerm string `json:"search_term"`
	Year       int    `json:"year"`
}
