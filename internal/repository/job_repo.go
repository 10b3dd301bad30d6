package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, search_term, year, status, progress, result_count,
	page_size_used, error, attempts, started_at, completed_at, created_at, updated_at`

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.SearchTerm,
		job.Year,
		job.Status,
		job.Progress,
		job.ResultCount,
		job.PageSizeUsed,
		nullString(job.Error),
		job.Attempts,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE id = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		UPDATE scrape_jobs SET status = ?, progress = ?, result_count = ?, page_size_used = ?,
			error = ?, attempts = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		job.Status,
		job.Progress,
		job.ResultCount,
		job.PageSizeUsed,
		nullString(job.Error),
		job.Attempts,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		time.Now().Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scrape_jobs SET progress = ?, updated_at = ? WHERE id = ?",
		progress, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// MarkStaleProcessingFailed fails jobs stuck in processing longer than maxAge.
// This cleans up jobs left behind by a server restart mid-scrape.
func (r *SQLiteJobRepository) MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)

	query := `
		UPDATE scrape_jobs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusFailed,
		"Job terminated: server restart or timeout",
		now,
		now,
		models.JobStatusProcessing,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

// DeleteOlderThan deletes terminal jobs older than the specified time and
// returns the deleted job IDs.
func (r *SQLiteJobRepository) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	query := `SELECT id FROM scrape_jobs WHERE created_at < ? AND status IN ('completed', 'failed')`
	rows, err := r.db.QueryContext(ctx, query, before.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query old jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	deleteQuery := `DELETE FROM scrape_jobs WHERE created_at < ? AND status IN ('completed', 'failed')`
	if _, err := r.db.ExecContext(ctx, deleteQuery, before.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	return ids, nil
}

func (r *SQLiteJobRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scrape_jobs WHERE status = ?", status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (r *SQLiteJobRepository) scanJob(row *sql.Row) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var errMsg, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.SearchTerm, &job.Year, &job.Status, &job.Progress,
		&job.ResultCount, &job.PageSizeUsed, &errMsg, &job.Attempts,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	applyJobNulls(&job, errMsg, startedAt, completedAt, createdAt, updatedAt)
	return &job, nil
}

func (r *SQLiteJobRepository) scanJobFromRows(rows *sql.Rows) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var errMsg, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&job.ID, &job.SearchTerm, &job.Year, &job.Status, &job.Progress,
		&job.ResultCount, &job.PageSizeUsed, &errMsg, &job.Attempts,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	applyJobNulls(&job, errMsg, startedAt, completedAt, createdAt, updatedAt)
	return &job, nil
}

func applyJobNulls(job *models.ScrapeJob, errMsg, startedAt, completedAt sql.NullString, createdAt, updatedAt string) {
	job.Error = errMsg.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
}
