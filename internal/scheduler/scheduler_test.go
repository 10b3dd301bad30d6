package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/parcelpulse/appraisal-api/internal/database/migrations"
	"github.com/parcelpulse/appraisal-api/internal/gate"
	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/service"
)

type env struct {
	repos  *repository.Repositories
	broker *queue.Broker
	sched  *Scheduler
}

func setupScheduler(t *testing.T) *env {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repos := repository.NewRepositories(db)
	broker := queue.New(db, 3, time.Millisecond, nil)
	g := gate.New(5*time.Second, broker, nil)
	scrape := service.NewScrapeService(repos.Job, broker, g, 2026, nil)

	return &env{
		repos:  repos,
		broker: broker,
		sched:  New(repos.Monitor, scrape, time.Minute, 2026, nil),
	}
}

func createMonitor(t *testing.T, e *env, term string, enabled bool) *models.MonitoredSearch {
	t.Helper()
	svc := service.NewMonitorService(e.repos.Monitor, nil)
	m, err := svc.Create(context.Background(), term, models.FrequencyDaily, enabled)
	if err != nil {
		t.Fatalf("Create monitor: %v", err)
	}
	return m
}

func TestTick_SchedulesDueMonitor(t *testing.T) {
	e := setupScheduler(t)
	ctx := context.Background()
	m := createMonitor(t, e, "smith", true)

	e.sched.Tick(ctx)

	// A job was created and the monitor advanced.
	got, err := e.repos.Monitor.GetByID(ctx, m.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID = (%v, %v)", got, err)
	}
	if got.LastRunAt == nil || got.LastJobID == "" {
		t.Fatalf("monitor not marked run: %+v", got)
	}

	job, err := e.repos.Job.GetByID(ctx, got.LastJobID)
	if err != nil || job == nil {
		t.Fatalf("job = (%v, %v)", job, err)
	}
	if job.SearchTerm != "smith" || job.Year != 2026 {
		t.Errorf("job = %+v", job)
	}

	msg, _ := e.broker.Claim(ctx)
	if msg == nil {
		t.Fatal("no queue message enqueued")
	}
}

func TestTick_DisabledMonitorIgnored(t *testing.T) {
	e := setupScheduler(t)
	ctx := context.Background()
	m := createMonitor(t, e, "smith", false)

	e.sched.Tick(ctx)

	got, _ := e.repos.Monitor.GetByID(ctx, m.ID)
	if got.LastRunAt != nil {
		t.Error("disabled monitor was run")
	}
}

func TestTick_GateRefusalDoesNotAdvanceMonitor(t *testing.T) {
	e := setupScheduler(t)
	ctx := context.Background()
	m := createMonitor(t, e, "smith", true)

	// First pass schedules; a forced second due check must be refused by
	// the gate without consuming the monitor's run slot.
	e.sched.Tick(ctx)
	first, _ := e.repos.Monitor.GetByID(ctx, m.ID)

	if err := e.repos.Monitor.MarkRun(ctx, m.ID, first.LastJobID, time.Now().UTC().Add(-48*time.Hour)); err != nil {
		t.Fatalf("MarkRun: %v", err)
	}
	e.sched.Tick(ctx)

	got, _ := e.repos.Monitor.GetByID(ctx, m.ID)
	if got.LastRunAt == nil {
		t.Fatal("LastRunAt cleared")
	}
	// Refusal means MarkRun was not called again: the backdated run time
	// is still there, so the monitor stays due for the next pass.
	if time.Since(*got.LastRunAt) < 24*time.Hour {
		t.Error("monitor advanced despite gate refusal")
	}
}

func TestTick_MultipleMonitors(t *testing.T) {
	e := setupScheduler(t)
	ctx := context.Background()
	createMonitor(t, e, "smith", true)
	createMonitor(t, e, "jones", true)

	e.sched.Tick(ctx)

	counts, err := e.broker.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[queue.StateWaiting] != 2 {
		t.Errorf("waiting = %d, want 2", counts[queue.StateWaiting])
	}
}
