// Package translator converts natural-language property questions into
// structured query filters. It asks an LLM for a JSON filter and sanitizes
// the answer against a fixed field and operator grammar. Translation never
// fails: any model outage, malformed output, or empty filter degrades to a
// broad text search over the descriptive fields.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parcelpulse/appraisal-api/internal/metrics"
	"github.com/parcelpulse/appraisal-api/internal/models"
)

// Completer is the single LLM call the translator needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Result is a translated query. Fallback is true when the filter came from
// the text-search degradation path rather than the model.
type Result struct {
	Filter      *models.QueryFilter
	Explanation string
	Fallback    bool
}

// Translator builds filters from natural language.
type Translator struct {
	llm    Completer
	logger *slog.Logger
}

// New creates a translator. llm may be nil, in which case every query takes
// the fallback path.
func New(llm Completer, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{llm: llm, logger: logger}
}

// Queryable fields, as exposed to the model and accepted back from it.
var allowedFields = map[string]bool{
	"propertyId":      true,
	"name":            true,
	"propType":        true,
	"city":            true,
	"propertyAddress": true,
	"assessedValue":   true,
	"appraisedValue":  true,
	"geoId":           true,
	"description":     true,
	"searchTerm":      true,
}

// fallbackFields are the free-text columns searched when translation
// degrades.
var fallbackFields = []string{"name", "propertyAddress", "city", "description"}

const promptTemplate = `You translate questions about county property appraisal records into a JSON filter.

Available fields:
- propertyId (string): unique property identifier
- name (string): owner name
- propType (string): property type code, e.g. "R" for real, "P" for personal
- city (string): city name, may be absent
- propertyAddress (string): situs address
- assessedValue (number): assessed value in dollars
- appraisedValue (number): appraised value in dollars
- geoId (string): geographic identifier
- description (string): legal description
- searchTerm (string): the search that produced the record

Operators: a bare string means case-insensitive substring match. For explicit
operators use {"contains": "text"}, {"eq": value}, {"gte": n}, {"lte": n},
{"gt": n}, {"lt": n}. Combine leaves with {"AND": [...]} or {"OR": [...]}.

Respond with only a JSON object of the form:
{"filter": {...}, "explanation": "one sentence describing the filter"}

Question: %s`

// Translate converts a natural-language query into a filter. It never
// returns an error; see Result.Fallback.
func (t *Translator) Translate(ctx context.Context, query string) Result {
	if t.llm == nil {
		return t.fallback(query, "no language model configured")
	}

	raw, err := t.llm.Complete(ctx, fmt.Sprintf(promptTemplate, query))
	if err != nil {
		return t.fallback(query, fmt.Sprintf("model call failed: %v", err))
	}

	jsonText, ok := extractJSON(raw)
	if !ok {
		return t.fallback(query, "model output contained no JSON object")
	}

	var parsed struct {
		Filter      map[string]any `json:"filter"`
		Explanation string         `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return t.fallback(query, fmt.Sprintf("model output was not valid JSON: %v", err))
	}

	filter := sanitize(parsed.Filter)
	if filter.Empty() {
		return t.fallback(query, "model filter had no usable conditions")
	}

	explanation := strings.TrimSpace(parsed.Explanation)
	if explanation == "" {
		explanation = "Filter generated from the query."
	}
	return Result{Filter: filter, Explanation: explanation}
}

// fallback builds an OR of case-insensitive substring matches over the
// free-text fields.
func (t *Translator) fallback(query, reason string) Result {
	metrics.TranslatorFallbacks.Inc()
	t.logger.Warn("query translation degraded to text search", "reason", reason)

	conditions := make([]models.FilterCondition, 0, len(fallbackFields))
	for _, field := range fallbackFields {
		conditions = append(conditions, models.FilterCondition{
			Field: field,
			Op:    models.FilterOpContains,
			Value: query,
		})
	}
	return Result{
		Filter:      &models.QueryFilter{Logic: "or", Conditions: conditions},
		Explanation: fmt.Sprintf("Could not build a structured filter for %q; using text search fallback over name, address, city, and description.", query),
		Fallback:    true,
	}
}

// extractJSON finds the first balanced JSON object in text, skipping prose
// and markdown code fences around it. Brace counting respects string
// literals and escapes.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if fenced, ok := stripFence(text); ok {
		text = fenced
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	body := strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the info string ("json" etc.) on the opening fence line.
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

// sanitize validates a raw filter object against the grammar. Unknown
// fields and operators are dropped silently; a composite uses the leaves
// that survive.
func sanitize(raw map[string]any) *models.QueryFilter {
	if raw == nil {
		return &models.QueryFilter{}
	}

	if arr, ok := raw["AND"].([]any); ok {
		return &models.QueryFilter{Logic: "and", Conditions: sanitizeLeaves(arr)}
	}
	if arr, ok := raw["OR"].([]any); ok {
		return &models.QueryFilter{Logic: "or", Conditions: sanitizeLeaves(arr)}
	}

	// A bare object is an implicit AND over its entries.
	var conditions []models.FilterCondition
	for field, value := range raw {
		conditions = append(conditions, sanitizeLeaf(field, value)...)
	}
	return &models.QueryFilter{Logic: "and", Conditions: conditions}
}

func sanitizeLeaves(arr []any) []models.FilterCondition {
	var conditions []models.FilterCondition
	for _, elem := range arr {
		leaf, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		for field, value := range leaf {
			conditions = append(conditions, sanitizeLeaf(field, value)...)
		}
	}
	return conditions
}

// sanitizeLeaf converts one {field: spec} entry into zero or more
// conditions.
func sanitizeLeaf(field string, value any) []models.FilterCondition {
	if !allowedFields[field] {
		return nil
	}

	switch v := value.(type) {
	case string:
		return []models.FilterCondition{{Field: field, Op: models.FilterOpContains, Value: v}}
	case float64:
		return []models.FilterCondition{{Field: field, Op: models.FilterOpEq, Value: v}}
	case map[string]any:
		var conditions []models.FilterCondition
		for opName, operand := range v {
			op, ok := parseOp(opName)
			if !ok {
				continue
			}
			if !validOperand(op, operand) {
				continue
			}
			conditions = append(conditions, models.FilterCondition{Field: field, Op: op, Value: operand})
		}
		return conditions
	default:
		return nil
	}
}

func parseOp(name string) (models.FilterOp, bool) {
	switch name {
	case "contains":
		return models.FilterOpContains, true
	case "eq", "equals":
		return models.FilterOpEq, true
	case "gte":
		return models.FilterOpGte, true
	case "lte":
		return models.FilterOpLte, true
	case "gt":
		return models.FilterOpGt, true
	case "lt":
		return models.FilterOpLt, true
	default:
		// "mode" and anything else the model invents is ignored.
		return "", false
	}
}

func validOperand(op models.FilterOp, operand any) bool {
	switch op {
	case models.FilterOpContains:
		_, ok := operand.(string)
		return ok
	case models.FilterOpEq:
		switch operand.(type) {
		case string, float64:
			return true
		}
		return false
	default:
		_, ok := operand.(float64)
		return ok
	}
}
