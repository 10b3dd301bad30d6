// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/models"
)

// PropertyRepository defines methods for property data access.
type PropertyRepository interface {
	// UpsertBatch inserts or updates properties keyed by property_id.
	// Existing rows keep their created_at. Returns (inserted, updated).
	UpsertBatch(ctx context.Context, properties []*models.Property) (int, int, error)
	GetByID(ctx context.Context, propertyID string) (*models.Property, error)
	// Find returns properties matching the filter, newest scrape first.
	// A nil or empty filter matches everything.
	Find(ctx context.Context, filter *models.QueryFilter, limit, offset int) ([]*models.Property, error)
	Count(ctx context.Context, filter *models.QueryFilter) (int, error)
	GetBySearchTerm(ctx context.Context, searchTerm string, limit, offset int) ([]*models.Property, error)
}

// JobRepository defines methods for scrape job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
	GetByID(ctx context.Context, id string) (*models.ScrapeJob, error)
	List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.ScrapeJob, error)
	Update(ctx context.Context, job *models.ScrapeJob) error
	// UpdateProgress sets only the progress percentage for a job.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// MarkStaleProcessingFailed fails jobs stuck in processing longer than
	// maxAge, e.g. after a server restart. Returns the number affected.
	MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration) (int64, error)
	// DeleteOlderThan deletes terminal jobs older than the given time and
	// returns the deleted job IDs.
	DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error)
	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// MonitorRepository defines methods for monitored search data access.
type MonitorRepository interface {
	Create(ctx context.Context, m *models.MonitoredSearch) error
	GetByID(ctx context.Context, id string) (*models.MonitoredSearch, error)
	List(ctx context.Context) ([]*models.MonitoredSearch, error)
	Update(ctx context.Context, m *models.MonitoredSearch) error
	Delete(ctx context.Context, id string) error
	// ListDue returns enabled monitors whose next run time is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*models.MonitoredSearch, error)
	// MarkRun records that a scrape job was enqueued for the monitor.
	MarkRun(ctx context.Context, id, jobID string, at time.Time) error
}

// CachedToken is the persisted upstream bearer token.
type CachedToken struct {
	TokenEncrypted string
	AcquiredAt     time.Time
}

// TokenRepository persists the encrypted upstream token across restarts.
type TokenRepository interface {
	// Get returns the cached token, or nil if none is stored.
	Get(ctx context.Context) (*CachedToken, error)
	Save(ctx context.Context, tokenEncrypted string, acquiredAt time.Time) error
}

// Repositories holds all repository instances.
type Repositories struct {
	Property PropertyRepository
	Job      JobRepository
	Monitor  MonitorRepository
	Token    TokenRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Property: NewSQLitePropertyRepository(db),
		Job:      NewSQLiteJobRepository(db),
		Monitor:  NewSQLiteMonitorRepository(db),
		Token:    NewSQLiteTokenRepository(db),
	}
}
