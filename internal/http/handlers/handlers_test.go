package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/parcelpulse/appraisal-api/internal/database/migrations"
	"github.com/parcelpulse/appraisal-api/internal/gate"
	"github.com/parcelpulse/appraisal-api/internal/http/mw"
	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/service"
	"github.com/parcelpulse/appraisal-api/internal/translator"
)

type env struct {
	db       *sql.DB
	repos    *repository.Repositories
	broker   *queue.Broker
	handlers *Handlers
}

func setupHandlers(t *testing.T) *env {
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
	query := service.NewQueryService(translator.New(nil, nil), repos.Property, nil)
	monitor := service.NewMonitorService(repos.Monitor, nil)

	return &env{
		db:     db,
		repos:  repos,
		broker: broker,
		handlers: &Handlers{
			Scrape:  NewScrapeHandler(scrape, nil),
			Query:   NewQueryHandler(query),
			Monitor: NewMonitorHandler(monitor),
			System:  NewSystemHandler(db, broker, nil),
		},
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	se, ok := err.(huma.StatusError)
	if !ok {
		t.Fatalf("error %v carries no status", err)
	}
	return se.GetStatus()
}

func TestCreateScrape(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()

	input := &CreateScrapeInput{}
	input.Body.SearchTerm = "smith"

	out, err := e.handlers.Scrape.CreateScrape(ctx, input)
	if err != nil {
		t.Fatalf("CreateScrape: %v", err)
	}
	if out.Body.SearchTerm != "smith" || out.Body.Year != 2026 || out.Body.Status != models.JobStatusPending {
		t.Errorf("job = %+v", out.Body)
	}

	// The same term is refused while in flight.
	_, err = e.handlers.Scrape.CreateScrape(ctx, input)
	if err == nil {
		t.Fatal("duplicate scrape accepted")
	}
	if got := statusOf(t, err); got != 409 {
		t.Errorf("status = %d, want 409", got)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	e := setupHandlers(t)

	_, err := e.handlers.Scrape.GetJob(context.Background(), &GetJobInput{ID: "missing"})
	if err == nil {
		t.Fatal("missing job returned no error")
	}
	if got := statusOf(t, err); got != 404 {
		t.Errorf("status = %d, want 404", got)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	e := setupHandlers(t)

	out, err := e.handlers.Scrape.ListJobs(context.Background(), &ListJobsInput{Limit: 50})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if out.Body.Jobs == nil {
		t.Error("Jobs is nil, want empty array")
	}
}

func TestExport_UnconfiguredStorage(t *testing.T) {
	e := setupHandlers(t)

	input := &ExportInput{}
	input.Body.SearchTerm = "smith"
	_, err := e.handlers.Scrape.Export(context.Background(), input)
	if err == nil {
		t.Fatal("export without storage returned no error")
	}
	if got := statusOf(t, err); got != 503 {
		t.Errorf("status = %d, want 503", got)
	}
}

func TestQueryProperties_Fallback(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()

	now := time.Now().UTC()
	props := []*models.Property{{
		PropertyID: "P1", Name: "SMITH JOHN", PropType: "R",
		PropertyAddress: "100 MAIN ST", SearchTerm: "smith",
		ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}}
	if _, _, err := e.repos.Property.UpsertBatch(ctx, props); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	input := &QueryPropertiesInput{}
	input.Body.Question = "main st"

	out, err := e.handlers.Query.QueryProperties(ctx, input)
	if err != nil {
		t.Fatalf("QueryProperties: %v", err)
	}
	// No LLM configured: the translator degrades to text search.
	if !out.Body.Fallback || out.Body.Total != 1 {
		t.Errorf("result = %+v", out.Body)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()

	create := &CreateMonitorInput{}
	create.Body.SearchTerm = "smith"
	create.Body.Frequency = "hourly"

	created, err := e.handlers.Monitor.CreateMonitor(ctx, create)
	if err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	if !created.Body.Enabled || created.Body.Frequency != models.FrequencyHourly {
		t.Errorf("monitor = %+v", created.Body)
	}

	update := &UpdateMonitorInput{ID: created.Body.ID}
	freq := "weekly"
	enabled := false
	update.Body.Frequency = &freq
	update.Body.Enabled = &enabled

	updated, err := e.handlers.Monitor.UpdateMonitor(ctx, update)
	if err != nil {
		t.Fatalf("UpdateMonitor: %v", err)
	}
	if updated.Body.Frequency != models.FrequencyWeekly || updated.Body.Enabled {
		t.Errorf("updated = %+v", updated.Body)
	}

	if _, err := e.handlers.Monitor.DeleteMonitor(ctx, &DeleteMonitorInput{ID: created.Body.ID}); err != nil {
		t.Fatalf("DeleteMonitor: %v", err)
	}
	_, err = e.handlers.Monitor.GetMonitor(ctx, &GetMonitorInput{ID: created.Body.ID})
	if err == nil || statusOf(t, err) != 404 {
		t.Errorf("GetMonitor after delete = %v, want 404", err)
	}
}

func TestQueueStats(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()

	input := &CreateScrapeInput{}
	input.Body.SearchTerm = "smith"
	if _, err := e.handlers.Scrape.CreateScrape(ctx, input); err != nil {
		t.Fatalf("CreateScrape: %v", err)
	}

	out, err := e.handlers.System.QueueStats(ctx, nil)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if out.Body.Counts["waiting"] != 1 {
		t.Errorf("counts = %v", out.Body.Counts)
	}
}

func TestReadyz(t *testing.T) {
	e := setupHandlers(t)

	out, err := e.handlers.System.Readyz(context.Background(), nil)
	if err != nil {
		t.Fatalf("Readyz: %v", err)
	}
	if out.Body.Status != "ok" {
		t.Errorf("Status = %q", out.Body.Status)
	}
}

func TestProbesBypassAuth(t *testing.T) {
	e := setupHandlers(t)

	router := chi.NewRouter()
	probeConfig := huma.DefaultConfig("probes", "test")
	probeConfig.OpenAPIPath = ""
	probeConfig.DocsPath = ""
	probeConfig.SchemasPath = ""
	RegisterProbes(humachi.New(router, probeConfig), e.handlers.System)

	router.Group(func(r chi.Router) {
		r.Use(mw.Auth("test-secret"))
		Register(humachi.New(r, huma.DefaultConfig("api", "test")), e.handlers)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d without a token, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /api/v1/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /api/v1/health = %d without a token, want 401", resp.StatusCode)
	}
}
