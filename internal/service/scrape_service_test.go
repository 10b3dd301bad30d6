package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/queue"
)

func TestSchedule_CreatesJobAndMessage(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	job, err := env.scrape.Schedule(ctx, "smith", 0, 0)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if job.SearchTerm != "smith" || job.Year != 2026 || job.Status != models.JobStatusPending {
		t.Errorf("job = %+v", job)
	}

	stored, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID = (%v, %v)", stored, err)
	}

	msg, err := env.broker.Claim(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Claim = (%v, %v)", msg, err)
	}
	if msg.DedupKey != "smith|2026" || msg.Priority != queue.DefaultPriority {
		t.Errorf("message = %+v", msg)
	}

	var payload models.ScrapePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.JobID != job.ID || payload.SearchTerm != "smith" || payload.Year != 2026 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSchedule_GateRefusesDuplicate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := env.scrape.Schedule(ctx, "smith", 2026, 0); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}

	_, err := env.scrape.Schedule(ctx, "smith", 2026, 0)
	if !errors.Is(err, ErrAlreadyScheduled) {
		t.Errorf("second Schedule err = %v, want ErrAlreadyScheduled", err)
	}

	// Normalized variants hit the same fingerprint.
	_, err = env.scrape.Schedule(ctx, "  SMITH ", 2026, 0)
	if !errors.Is(err, ErrAlreadyScheduled) {
		t.Errorf("variant Schedule err = %v, want ErrAlreadyScheduled", err)
	}

	// A different year is a different fingerprint.
	if _, err := env.scrape.Schedule(ctx, "smith", 2025, 0); err != nil {
		t.Errorf("different year Schedule: %v", err)
	}
}

func TestSchedule_EmptyTermRejected(t *testing.T) {
	env := setupTestEnv(t)

	if _, err := env.scrape.Schedule(context.Background(), "   ", 2026, 0); err == nil {
		t.Error("Schedule accepted a blank term")
	}
}

func TestSchedule_PriorityPassedThrough(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := env.scrape.Schedule(ctx, "urgent", 2026, 1); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	msg, err := env.broker.Claim(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Claim = (%v, %v)", msg, err)
	}
	if msg.Priority != 1 {
		t.Errorf("Priority = %d, want 1", msg.Priority)
	}
}

func TestListJobs_DefaultLimit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := env.scrape.Schedule(ctx, "smith", 2026, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	jobs, err := env.scrape.ListJobs(ctx, "", -1, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("len(jobs) = %d", len(jobs))
	}
}
