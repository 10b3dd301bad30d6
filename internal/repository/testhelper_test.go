package repository

import (
	"database/sql"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/parcelpulse/appraisal-api/internal/database/migrations"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestJob is a helper to insert a test scrape job directly.
func InsertTestJob(t *testing.T, db *sql.DB, id, searchTerm, status string) {
	t.Helper()
	query := `
		INSERT INTO scrape_jobs (id, search_term, year, status, created_at, updated_at)
		VALUES (?, ?, 2026, ?, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, searchTerm, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// InsertTestProperty is a helper to insert a test property directly.
func InsertTestProperty(t *testing.T, db *sql.DB, propertyID, name, searchTerm string, appraisedValue int64) {
	t.Helper()
	query := `
		INSERT INTO properties (property_id, name, prop_type, property_address, assessed_value,
			appraised_value, search_term, scraped_at, created_at, updated_at)
		VALUES (?, ?, 'R', '123 Main St', ?, ?, ?, datetime('now'), datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, propertyID, name, appraisedValue, appraisedValue, searchTerm); err != nil {
		t.Fatalf("failed to insert test property: %v", err)
	}
}
