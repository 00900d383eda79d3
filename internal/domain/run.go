package domain

import "time"

// AcquisitionMode distinguishes the full and latency-bounded paths.
type AcquisitionMode string

const (
	ModeFull AcquisitionMode = "full"
	ModeFast AcquisitionMode = "fast"
)

// AcquisitionRun is the analytics row written once per acquisition call.
type AcquisitionRun struct {
	RunID           string          // uuid
	Mode            AcquisitionMode // full | fast
	City            string
	State           string
	CacheKey        string
	CacheHit        bool
	Sources         []string // sources dispatched
	RecordsReturned int
	Errors          int
	Synthetic       bool // result came from fallback synthesis
	StartedAt       time.Time
	Duration        time.Duration
}

// PriceSnapshot is one price observation written to analytics storage.
type PriceSnapshot struct {
	Source       string
	PropertyID   string
	City         string
	Neighborhood string
	Price        float64
	Size         int
	Bedrooms     int
	AcquiredAt   time.Time
}

// NewPriceSnapshot builds a snapshot from an enriched record.
func NewPriceSnapshot(r PropertyRecord) PriceSnapshot {
	return PriceSnapshot{
		Source:       r.Source,
		PropertyID:   r.ID,
		City:         r.City,
		Neighborhood: r.Neighborhood,
		Price:        r.Price,
		Size:         r.Size,
		Bedrooms:     r.Bedrooms,
		AcquiredAt:   r.AcquiredAt,
	}
}

// NeighborhoodStat summarizes snapshots of one neighborhood.
type NeighborhoodStat struct {
	City          string  `json:"city"`
	Neighborhood  string  `json:"neighborhood"`
	Listings      int64   `json:"listings"`
	AvgPrice      float64 `json:"avg_price"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	AvgPricePerM2 float64 `json:"avg_price_per_m2"`
}
