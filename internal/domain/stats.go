package domain

import "time"

// SourceStats are the counters of one source.
type SourceStats struct {
	Name            string    `json:"name"`
	RequestsMade    int64     `json:"requests_made"`
	PropertiesFound int64     `json:"properties_found"`
	ErrorsCount     int64     `json:"errors_count"`
	StartedAt       time.Time `json:"started_at"`
}

// Add returns the element-wise sum of s and o, keeping s's name and earliest start.
func (s SourceStats) Add(o SourceStats) SourceStats {
	s.RequestsMade += o.RequestsMade
	s.PropertiesFound += o.PropertiesFound
	s.ErrorsCount += o.ErrorsCount
	if s.StartedAt.IsZero() || (!o.StartedAt.IsZero() && o.StartedAt.Before(s.StartedAt)) {
		s.StartedAt = o.StartedAt
	}
	return s
}

// CoordinatorStats aggregates source counters with coordinator-level counters.
type CoordinatorStats struct {
	TotalRequests   int64                  `json:"total_requests"`
	TotalProperties int64                  `json:"total_properties"`
	TotalErrors     int64                  `json:"total_errors"`
	Acquisitions    int64                  `json:"acquisitions"`
	CacheHits       int64                  `json:"cache_hits"`
	Fallbacks       int64                  `json:"fallbacks"`
	SourceFailures  int64                  `json:"source_failures"` // sources excluded from a merge
	SessionStart    time.Time              `json:"session_start"`
	Uptime          time.Duration          `json:"uptime_ns"`
	BySource        map[string]SourceStats `json:"by_source"`
}
