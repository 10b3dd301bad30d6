package models

// FilterOp is a comparison operator in a property query filter.
type FilterOp string

const (
	FilterOpContains FilterOp = "contains"
	FilterOpEq       FilterOp = "eq"
	FilterOpGte      FilterOp = "gte"
	FilterOpLte      FilterOp = "lte"
	FilterOpGt       FilterOp = "gt"
	FilterOpLt       FilterOp = "lt"
)

// FilterCondition is a single field comparison. Value is a string for text
// operators and a number for the ordering operators.
type FilterCondition struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// QueryFilter is a flat conjunction or disjunction of conditions, the shape
// the natural-language translator produces and the property store consumes.
type QueryFilter struct {
	Logic      string            `json:"logic"` // "and" or "or"
	Conditions []FilterCondition `json:"conditions"`
}

// Empty reports whether the filter has no conditions, meaning match all.
func (f *QueryFilter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}
