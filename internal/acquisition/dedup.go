package acquisition

import (
	"strconv"
	"strings"

	"property-acquisition/internal/domain"
)

// DedupByID keeps the first record of every id, across sources: the same id
// reported by two adapters is one listing. Records without an id cannot be
// identified and are always kept.
func DedupByID(records []domain.PropertyRecord) []domain.PropertyRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.PropertyRecord, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			out = append(out, r)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DedupFast keeps the first record of every (price, city, bedrooms) triple.
// Used on the fast path where sources may not assign stable ids.
func DedupFast(records []domain.PropertyRecord) []domain.PropertyRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.PropertyRecord, 0, len(records))
	for _, r := range records {
		key := fastKey(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func fastKey(r domain.PropertyRecord) string {
	return strconv.FormatFloat(r.Price, 'f', -1, 64) + "|" +
		strings.ToLower(strings.TrimSpace(r.City)) + "|" +
		strconv.Itoa(r.Bedrooms)
}
