package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/models"
)

// SQLiteMonitorRepository implements MonitorRepository for SQLite.
type SQLiteMonitorRepository struct {
	db *sql.DB
}

// NewSQLiteMonitorRepository creates a new SQLite monitor repository.
func NewSQLiteMonitorRepository(db *sql.DB) *SQLiteMonitorRepository {
	return &SQLiteMonitorRepository{db: db}
}

const monitorColumns = `id, search_term, frequency, enabled, last_run_at, last_job_id, created_at, updated_at`

func (r *SQLiteMonitorRepository) Create(ctx context.Context, m *models.MonitoredSearch) error {
	query := `
		INSERT INTO monitored_searches (` + monitorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.SearchTerm,
		m.Frequency,
		boolToInt(m.Enabled),
		nullTime(m.LastRunAt),
		nullString(m.LastJobID),
		m.CreatedAt.Format(time.RFC3339),
		m.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	return nil
}

func (r *SQLiteMonitorRepository) GetByID(ctx context.Context, id string) (*models.MonitoredSearch, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitored_searches WHERE id = ?`
	return r.scanMonitor(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteMonitorRepository) List(ctx context.Context) ([]*models.MonitoredSearch, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitored_searches ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	return r.scanMonitors(rows)
}

func (r *SQLiteMonitorRepository) Update(ctx context.Context, m *models.MonitoredSearch) error {
	query := `
		UPDATE monitored_searches
		SET search_term = ?, frequency = ?, enabled = ?, last_run_at = ?, last_job_id = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		m.SearchTerm,
		m.Frequency,
		boolToInt(m.Enabled),
		nullTime(m.LastRunAt),
		nullString(m.LastJobID),
		time.Now().Format(time.RFC3339),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update monitor: %w", err)
	}
	return nil
}

func (r *SQLiteMonitorRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM monitored_searches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	return nil
}

// ListDue returns enabled monitors that have never run or whose frequency
// interval has elapsed. The interval comparison happens in Go since the
// frequency is symbolic.
func (r *SQLiteMonitorRepository) ListDue(ctx context.Context, now time.Time) ([]*models.MonitoredSearch, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitored_searches WHERE enabled = 1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query due monitors: %w", err)
	}
	defer rows.Close()

	monitors, err := r.scanMonitors(rows)
	if err != nil {
		return nil, err
	}

	var due []*models.MonitoredSearch
	for _, m := range monitors {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (r *SQLiteMonitorRepository) MarkRun(ctx context.Context, id, jobID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE monitored_searches SET last_run_at = ?, last_job_id = ?, updated_at = ? WHERE id = ?",
		at.Format(time.RFC3339), jobID, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark monitor run: %w", err)
	}
	return nil
}

func (r *SQLiteMonitorRepository) scanMonitor(row *sql.Row) (*models.MonitoredSearch, error) {
	var m models.MonitoredSearch
	var enabled int
	var lastRunAt, lastJobID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&m.ID, &m.SearchTerm, &m.Frequency, &enabled, &lastRunAt, &lastJobID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitor: %w", err)
	}

	applyMonitorNulls(&m, enabled, lastRunAt, lastJobID, createdAt, updatedAt)
	return &m, nil
}

func (r *SQLiteMonitorRepository) scanMonitors(rows *sql.Rows) ([]*models.MonitoredSearch, error) {
	var monitors []*models.MonitoredSearch
	for rows.Next() {
		var m models.MonitoredSearch
		var enabled int
		var lastRunAt, lastJobID sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&m.ID, &m.SearchTerm, &m.Frequency, &enabled, &lastRunAt, &lastJobID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}

		applyMonitorNulls(&m, enabled, lastRunAt, lastJobID, createdAt, updatedAt)
		monitors = append(monitors, &m)
	}
	return monitors, rows.Err()
}

func applyMonitorNulls(m *models.MonitoredSearch, enabled int, lastRunAt, lastJobID sql.NullString, createdAt, updatedAt string) {
	m.Enabled = enabled == 1
	m.LastJobID = lastJobID.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if lastRunAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastRunAt.String)
		m.LastRunAt = &t
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
