package service

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/parcelpulse/appraisal-api/internal/database/migrations"
	"github.com/parcelpulse/appraisal-api/internal/gate"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// setupTestDB creates an in-memory database with migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	repos  *repository.Repositories
	broker *queue.Broker
	gate   *gate.Gate
	scrape *ScrapeService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	repos := repository.NewRepositories(db)
	broker := queue.New(db, 3, 10*time.Millisecond, nil)
	g := gate.New(5*time.Second, broker, nil)

	return &testEnv{
		repos:  repos,
		broker: broker,
		gate:   g,
		scrape: NewScrapeService(repos.Job, broker, g, 2026, nil),
	}
}
