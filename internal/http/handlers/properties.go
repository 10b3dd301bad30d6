package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/service"
)

// QueryHandler handles property query endpoints.
type QueryHandler struct {
	query *service.QueryService
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(query *service.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

// QueryPropertiesInput is a natural-language property query.
type QueryPropertiesInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" example:"residential properties in Lubbock assessed over 200k" doc:"Natural-language question about stored properties"`
		Limit    int    `json:"limit,omitempty" minimum:"0" maximum:"500" doc:"Page size, default 50"`
		Offset   int    `json:"offset,omitempty" minimum:"0" doc:"Page offset"`
	}
}

// QueryPropertiesOutput returns matching properties with the filter
// explanation.
type QueryPropertiesOutput struct {
	Body service.QueryResult
}

// QueryProperties answers a natural-language question over the property
// store. When the translator cannot build a structured filter the response
// is a text search and says so in the explanation.
func (h *QueryHandler) QueryProperties(ctx context.Context, input *QueryPropertiesInput) (*QueryPropertiesOutput, error) {
	res, err := h.query.Query(ctx, input.Body.Question, input.Body.Limit, input.Body.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("query failed")
	}
	if res.Properties == nil {
		res.Properties = []*models.Property{}
	}
	return &QueryPropertiesOutput{Body: *res}, nil
}

// GetPropertyInput identifies a property.
type GetPropertyInput struct {
	ID string `path:"id" doc:"Upstream property ID"`
}

// GetPropertyOutput returns one property.
type GetPropertyOutput struct {
	Body models.Property
}

// GetProperty returns a stored property by its upstream ID.
func (h *QueryHandler) GetProperty(ctx context.Context, input *GetPropertyInput) (*GetPropertyOutput, error) {
	p, err := h.query.GetProperty(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load property")
	}
	if p == nil {
		return nil, huma.Error404NotFound("property not found")
	}
	return &GetPropertyOutput{Body: *p}, nil
}
