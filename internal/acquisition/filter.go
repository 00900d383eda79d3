package acquisition

import (
	"strings"

	"property-acquisition/internal/domain"
)

// Criteria narrows an acquired result set. Zero values mean "any".
type Criteria struct {
	PriceMin     float64
	PriceMax     float64
	Bedrooms     int
	Bathrooms    int
	City         string // case-insensitive exact match
	Neighborhood string // case-insensitive substring
}

// CriteriaFromQuery carries the numeric constraints of q.
func CriteriaFromQuery(q domain.Query) Criteria {
	return Criteria{
		PriceMin:  q.PriceMin,
		PriceMax:  q.PriceMax,
		Bedrooms:  q.Bedrooms,
		Bathrooms: q.Bathrooms,
	}
}

// Match reports whether r satisfies every set criterion.
func (c Criteria) Match(r domain.PropertyRecord) bool {
	if c.PriceMin > 0 && r.Price < c.PriceMin {
		return false
	}
	if c.PriceMax > 0 && r.Price > c.PriceMax {
		return false
	}
	if c.Bedrooms > 0 && r.Bedrooms != c.Bedrooms {
		return false
	}
	if c.Bathrooms > 0 && r.Bathrooms != c.Bathrooms {
		return false
	}
	if c.City != "" && !strings.EqualFold(strings.TrimSpace(r.City), strings.TrimSpace(c.City)) {
		return false
	}
	if c.Neighborhood != "" &&
		!strings.Contains(strings.ToLower(r.Neighborhood), strings.ToLower(strings.TrimSpace(c.Neighborhood))) {
		return false
	}
	return true
}

// Filter returns the records matching c, preserving order.
func Filter(records []domain.PropertyRecord, c Criteria) []domain.PropertyRecord {
	out := make([]domain.PropertyRecord, 0, len(records))
	for _, r := range records {
		if c.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
