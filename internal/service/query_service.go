package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/translator"
)

// QueryResult is the answer to a natural-language property query.
type QueryResult struct {
	Properties  []*models.Property `json:"properties"`
	Total       int                `json:"total"`
	Explanation string             `json:"explanation"`
	Fallback    bool               `json:"fallback"`
}

// QueryService answers natural-language questions over the property store.
type QueryService struct {
	translator *translator.Translator
	properties repository.PropertyRepository
	logger     *slog.Logger
}

// NewQueryService creates a query service.
func NewQueryService(t *translator.Translator, properties repository.PropertyRepository, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{translator: t, properties: properties, logger: logger}
}

// GetProperty returns a stored property by its upstream ID, or nil.
func (s *QueryService) GetProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	return s.properties.GetByID(ctx, propertyID)
}

// Query translates the question into a filter and runs it. Translation
// never fails; storage errors do.
func (s *QueryService) Query(ctx context.Context, question string, limit, offset int) (*QueryResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	res := s.translator.Translate(ctx, question)

	properties, err := s.properties.Find(ctx, res.Filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	total, err := s.properties.Count(ctx, res.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count properties: %w", err)
	}

	s.logger.Debug("natural language query answered",
		"question_length", len(question),
		"matches", total,
		"fallback", res.Fallback,
	)
	return &QueryResult{
		Properties:  properties,
		Total:       total,
		Explanation: res.Explanation,
		Fallback:    res.Fallback,
	}, nil
}
