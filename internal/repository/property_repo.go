package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/models"
)

// upsertChunkSize bounds the number of rows per INSERT so a large scrape
// stays under SQLite's variable limit.
const upsertChunkSize = 500

// SQLitePropertyRepository implements PropertyRepository for SQLite.
type SQLitePropertyRepository struct {
	db *sql.DB
}

// NewSQLitePropertyRepository creates a new SQLite property repository.
func NewSQLitePropertyRepository(db *sql.DB) *SQLitePropertyRepository {
	return &SQLitePropertyRepository{db: db}
}

const propertyColumns = `property_id, name, prop_type, city, property_address,
	assessed_value, appraised_value, geo_id, description, search_term,
	scraped_at, created_at, updated_at`

// UpsertBatch inserts or updates properties keyed by property_id. The whole
// batch runs in one transaction; re-running it with the same input is a
// no-op apart from updated_at. Existing rows keep their created_at.
func (r *SQLitePropertyRepository) UpsertBatch(ctx context.Context, properties []*models.Property) (int, int, error) {
	if len(properties) == 0 {
		return 0, 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted, updated int
	for start := 0; start < len(properties); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(properties) {
			end = len(properties)
		}
		chunk := properties[start:end]

		existing, err := existingIDs(ctx, tx, chunk)
		if err != nil {
			return 0, 0, err
		}

		for _, p := range chunk {
			if existing[p.PropertyID] {
				updated++
			} else {
				inserted++
			}
		}

		if err := upsertChunk(ctx, tx, chunk); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, updated, nil
}

// existingIDs returns which of the chunk's property IDs are already stored.
func existingIDs(ctx context.Context, tx *sql.Tx, chunk []*models.Property) (map[string]bool, error) {
	placeholders := make([]string, len(chunk))
	args := make([]interface{}, len(chunk))
	for i, p := range chunk {
		placeholders[i] = "?"
		args[i] = p.PropertyID
	}

	query := fmt.Sprintf("SELECT property_id FROM properties WHERE property_id IN (%s)",
		strings.Join(placeholders, ","))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing properties: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(chunk))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan property id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

func upsertChunk(ctx context.Context, tx *sql.Tx, chunk []*models.Property) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var sb strings.Builder
	sb.WriteString(`INSERT INTO properties (` + propertyColumns + `) VALUES `)
	args := make([]interface{}, 0, len(chunk)*13)
	for i, p := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			p.PropertyID,
			p.Name,
			p.PropType,
			nullStringPtr(p.City),
			p.PropertyAddress,
			p.AssessedValue,
			p.AppraisedValue,
			nullStringPtr(p.GeoID),
			nullStringPtr(p.Description),
			p.SearchTerm,
			p.ScrapedAt.Format(time.RFC3339),
			now,
			now,
		)
	}
	sb.WriteString(`
		ON CONFLICT(property_id) DO UPDATE SET
			name = excluded.name,
			prop_type = excluded.prop_type,
			city = excluded.city,
			property_address = excluded.property_address,
			assessed_value = excluded.assessed_value,
			appraised_value = excluded.appraised_value,
			geo_id = excluded.geo_id,
			description = excluded.description,
			search_term = excluded.search_term,
			scraped_at = excluded.scraped_at,
			updated_at = excluded.updated_at`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to upsert properties: %w", err)
	}
	return nil
}

func (r *SQLitePropertyRepository) GetByID(ctx context.Context, propertyID string) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE property_id = ?`
	return scanProperty(r.db.QueryRowContext(ctx, query, propertyID))
}

func (r *SQLitePropertyRepository) Find(ctx context.Context, filter *models.QueryFilter, limit, offset int) ([]*models.Property, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + propertyColumns + ` FROM properties` + where +
		` ORDER BY scraped_at DESC, property_id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

func (r *SQLitePropertyRepository) Count(ctx context.Context, filter *models.QueryFilter) (int, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM properties"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return count, nil
}

func (r *SQLitePropertyRepository) GetBySearchTerm(ctx context.Context, searchTerm string, limit, offset int) ([]*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties
		WHERE search_term = ? ORDER BY property_id ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, searchTerm, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// filterColumns maps query filter field names to table columns. Anything
// not listed here is rejected rather than interpolated.
var filterColumns = map[string]string{
	"propertyId":      "property_id",
	"name":            "name",
	"propType":        "prop_type",
	"city":            "city",
	"propertyAddress": "property_address",
	"assessedValue":   "assessed_value",
	"appraisedValue":  "appraised_value",
	"geoId":           "geo_id",
	"description":     "description",
	"searchTerm":      "search_term",
}

// buildWhere translates a QueryFilter into a WHERE clause with bound args.
// Text matching is case-insensitive. Returns an empty clause for an empty
// filter.
func buildWhere(filter *models.QueryFilter) (string, []interface{}, error) {
	if filter.Empty() {
		return "", nil, nil
	}

	joiner := " AND "
	if strings.EqualFold(filter.Logic, "or") {
		joiner = " OR "
	}

	clauses := make([]string, 0, len(filter.Conditions))
	args := make([]interface{}, 0, len(filter.Conditions))
	for _, c := range filter.Conditions {
		col, ok := filterColumns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter field %q", c.Field)
		}

		switch c.Op {
		case models.FilterOpContains:
			s, ok := c.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("contains filter on %q requires a string value", c.Field)
			}
			clauses = append(clauses, fmt.Sprintf("LOWER(%s) LIKE ?", col))
			args = append(args, "%"+strings.ToLower(s)+"%")
		case models.FilterOpEq:
			clauses = append(clauses, fmt.Sprintf("%s = ?", col))
			args = append(args, filterValue(c.Value))
		case models.FilterOpGte, models.FilterOpLte, models.FilterOpGt, models.FilterOpLt:
			n, err := numericValue(c.Value)
			if err != nil {
				return "", nil, fmt.Errorf("%s filter on %q: %w", c.Op, c.Field, err)
			}
			op := map[models.FilterOp]string{
				models.FilterOpGte: ">=",
				models.FilterOpLte: "<=",
				models.FilterOpGt:  ">",
				models.FilterOpLt:  "<",
			}[c.Op]
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, op))
			args = append(args, n)
		default:
			return "", nil, fmt.Errorf("unknown filter operator %q", c.Op)
		}
	}

	return " WHERE " + strings.Join(clauses, joiner), args, nil
}

func filterValue(v interface{}) interface{} {
	// JSON numbers decode as float64; integer columns compare fine either way.
	return v
}

func numericValue(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a numeric value, got %T", v)
	}
}

func scanProperty(row *sql.Row) (*models.Property, error) {
	var p models.Property
	var city, geoID, description sql.NullString
	var scrapedAt, createdAt, updatedAt string

	err := row.Scan(
		&p.PropertyID, &p.Name, &p.PropType, &city, &p.PropertyAddress,
		&p.AssessedValue, &p.AppraisedValue, &geoID, &description, &p.SearchTerm,
		&scrapedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan property: %w", err)
	}

	applyPropertyNulls(&p, city, geoID, description)
	p.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func scanProperties(rows *sql.Rows) ([]*models.Property, error) {
	var properties []*models.Property
	for rows.Next() {
		var p models.Property
		var city, geoID, description sql.NullString
		var scrapedAt, createdAt, updatedAt string

		err := rows.Scan(
			&p.PropertyID, &p.Name, &p.PropType, &city, &p.PropertyAddress,
			&p.AssessedValue, &p.AppraisedValue, &geoID, &description, &p.SearchTerm,
			&scrapedAt, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}

		applyPropertyNulls(&p, city, geoID, description)
		p.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		properties = append(properties, &p)
	}
	return properties, rows.Err()
}

func applyPropertyNulls(p *models.Property, city, geoID, description sql.NullString) {
	if city.Valid {
		p.City = &city.String
	}
	if geoID.Valid {
		p.GeoID = &geoID.String
	}
	if description.Valid {
		p.Description = &description.String
	}
}

// Helper functions shared across repositories.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
