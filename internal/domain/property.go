package domain

import "time"

// PropertyRecord is a normalized listing produced by a source.
// Records are never mutated after enrichment; a re-scrape yields a new record.
type PropertyRecord struct {
	ID           string    `json:"id"` // unique within Source
	Title        string    `json:"title"`
	Price        float64   `json:"price"` // BRL, positive
	Size         int       `json:"size"`  // m²
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    int       `json:"bathrooms"`
	PropertyType string    `json:"property_type,omitempty"`
	Neighborhood string    `json:"neighborhood"`
	City         string    `json:"city"`
	Address      string    `json:"address"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ContentHash  string    `json:"content_hash"`
	Synthetic    bool      `json:"synthetic,omitempty"` // generated by fallback synthesis
}

// PricePerM2 returns price divided by size, or 0 when size is unknown.
func (r PropertyRecord) PricePerM2() float64 {
	if r.Size <= 0 {
		return 0
	}
	return r.Price / float64(r.Size)
}

// PriceHistoryEntry is one observed price for a listing.
type PriceHistoryEntry struct {
	Price       float64   `json:"price"`
	ContentHash string    `json:"content_hash"`
	ObservedAt  time.Time `json:"observed_at"`
}
