package handlers

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/token"
	"github.com/parcelpulse/appraisal-api/internal/version"
)

// SystemHandler serves health and operational introspection endpoints.
type SystemHandler struct {
	db     *sql.DB
	broker *queue.Broker
	tokens *token.Manager
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(db *sql.DB, broker *queue.Broker, tokens *token.Manager) *SystemHandler {
	return &SystemHandler{db: db, broker: broker, tokens: tokens}
}

// HealthOutput reports service liveness and build info.
type HealthOutput struct {
	Body struct {
		Status  string       `json:"status" example:"ok"`
		Version version.Info `json:"version"`
	}
}

// Health reports overall service health.
func (h *SystemHandler) Health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Get()
	return out, nil
}

// Readyz reports readiness; it fails until the database answers.
func (h *SystemHandler) Readyz(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return nil, huma.Error503ServiceUnavailable("database not ready")
	}
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Get()
	return out, nil
}

// TokenHealthOutput reports the upstream token manager state.
type TokenHealthOutput struct {
	Body token.Health
}

// TokenHealth reports the upstream auth token state without exposing the
// token itself.
func (h *SystemHandler) TokenHealth(ctx context.Context, _ *struct{}) (*TokenHealthOutput, error) {
	return &TokenHealthOutput{Body: h.tokens.Health()}, nil
}

// QueueStatsOutput reports message counts per broker state.
type QueueStatsOutput struct {
	Body struct {
		Counts map[string]int `json:"counts"`
	}
}

// QueueStats reports queue depth by state.
func (h *SystemHandler) QueueStats(ctx context.Context, _ *struct{}) (*QueueStatsOutput, error) {
	counts, err := h.broker.Counts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count queue messages")
	}

	out := &QueueStatsOutput{}
	out.Body.Counts = make(map[string]int, len(counts))
	for state, n := range counts {
		out.Body.Counts[string(state)] = n
	}
	return out, nil
}
