package upstream

import (
	"time"

	"github.com/parcelpulse/appraisal-api/internal/models"
)

// MapRecords converts upstream records into store properties. Records with
// no property id are dropped: nothing else identifies them. Numeric values
// default to 0 when omitted and are clamped non-negative; nullable text
// fields stay NULL rather than becoming empty strings.
func MapRecords(records []Record, searchTerm string, scrapedAt time.Time) []*models.Property {
	properties := make([]*models.Property, 0, len(records))
	for _, r := range records {
		if r.PropertyID == "" {
			continue
		}
		properties = append(properties, mapRecord(r, searchTerm, scrapedAt))
	}
	return properties
}

func mapRecord(r Record, searchTerm string, scrapedAt time.Time) *models.Property {
	return &models.Property{
		PropertyID:      string(r.PropertyID),
		Name:            r.DisplayName,
		PropType:        r.PropType,
		City:            r.City,
		PropertyAddress: r.StreetPrimary,
		AssessedValue:   clampValue(r.AssessedValue),
		AppraisedValue:  clampValue(r.AppraisedValue),
		GeoID:           r.GeoID,
		Description:     r.LegalDescription,
		SearchTerm:      searchTerm,
		ScrapedAt:       scrapedAt,
	}
}

func clampValue(v *int64) int64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}
