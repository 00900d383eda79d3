package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"property-acquisition/internal/acquisition"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/logging"
	"property-acquisition/internal/storage"
)

// Search pagination.
const (
	defaultPerPage = 20
	defaultState   = "SP"

	analysisSampleLimit = 1000
	rankingSize         = 10
)

// SearchResponse is the body of /api/v1/search.
type SearchResponse struct {
	Properties []domain.PropertyRecord `json:"properties"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	PerPage    int                     `json:"per_page"`
	Pages      int                     `json:"pages"`
	Sources    []string                `json:"sources"`
	Synthetic  bool                    `json:"synthetic"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	params := r.URL.Query()

	q, err := parseQuery(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, perPage, err := parsePagination(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []domain.PropertyRecord
	if fast, _ := strconv.ParseBool(params.Get("fast")); fast {
		records = s.deps.Coordinator.AcquireFast(r.Context(), q)
	} else {
		records, err = s.deps.Coordinator.Acquire(r.Context(), q, acquisition.AcquireOptions{UseCache: true, Parallel: true})
		if errors.Is(err, acquisition.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("search failed", "city", q.City, "error", err)
			writeError(w, http.StatusServiceUnavailable, "search is unavailable")
			return
		}
	}
	records = acquisition.Filter(records, acquisition.CriteriaFromQuery(q))

	writeJSON(w, http.StatusOK, paginate(records, page, perPage))
}

func paginate(records []domain.PropertyRecord, page, perPage int) SearchResponse {
	resp := SearchResponse{
		Properties: []domain.PropertyRecord{},
		Total:      len(records),
		Page:       page,
		PerPage:    perPage,
		Pages:      (len(records) + perPage - 1) / perPage,
		Sources:    []string{},
	}
	for _, rec := range records {
		if rec.Synthetic {
			resp.Synthetic = true
			break
		}
	}

	start := (page - 1) * perPage
	if start < len(records) {
		end := min(start+perPage, len(records))
		resp.Properties = records[start:end]
	}

	seen := make(map[string]struct{})
	for _, rec := range resp.Properties {
		if _, ok := seen[rec.Source]; !ok {
			seen[rec.Source] = struct{}{}
			resp.Sources = append(resp.Sources, rec.Source)
		}
	}
	sort.Strings(resp.Sources)
	return resp
}

// parseQuery maps search parameters onto a Query. State defaults to SP.
func parseQuery(params url.Values) (domain.Query, error) {
	q := domain.Query{
		City:            strings.TrimSpace(params.Get("city")),
		State:           strings.TrimSpace(params.Get("state")),
		TransactionType: params.Get("transaction_type"),
		PropertyType:    params.Get("property_type"),
	}
	if q.City == "" {
		return q, errors.New("city is required")
	}
	if q.State == "" {
		q.State = defaultState
	}

	var err error
	if q.PriceMin, err = floatParam(params, "min_price"); err != nil {
		return q, err
	}
	if q.PriceMax, err = floatParam(params, "max_price"); err != nil {
		return q, err
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"min_size", &q.SizeMin},
		{"max_size", &q.SizeMax},
		{"bedrooms", &q.Bedrooms},
		{"bathrooms", &q.Bathrooms},
		{"max_pages", &q.MaxPages},
	}
	for _, p := range ints {
		if *p.dst, err = intParam(params, p.name); err != nil {
			return q, err
		}
	}
	if q.MaxPages > domain.MaxPagesLimit {
		return q, fmt.Errorf("max_pages must be at most %d", domain.MaxPagesLimit)
	}

	if q.PriceMax > 0 && q.PriceMin > q.PriceMax {
		return q, errors.New("min_price cannot be greater than max_price")
	}
	if q.SizeMax > 0 && q.SizeMin > q.SizeMax {
		return q, errors.New("min_size cannot be greater than max_size")
	}
	return q, nil
}

func parsePagination(params url.Values) (page, perPage int, err error) {
	if page, err = intParam(params, "page"); err != nil {
		return 0, 0, err
	}
	if page == 0 {
		page = 1
	}
	if perPage, err = intParam(params, "per_page"); err != nil {
		return 0, 0, err
	}
	if perPage == 0 {
		perPage = defaultPerPage
	}
	if perPage > domain.MaxPerPage {
		perPage = domain.MaxPerPage
	}
	return page, perPage, nil
}

func floatParam(params url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(params.Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a finite non-negative number", name)
	}
	return v, nil
}

func intParam(params url.Values, name string) (int, error) {
	raw := strings.TrimSpace(params.Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// HistoryPoint is one price observation in a city-wide history.
type HistoryPoint struct {
	Source       string    `json:"source"`
	ID           string    `json:"id"`
	Neighborhood string    `json:"neighborhood"`
	Price        float64   `json:"price"`
	PricePerM2   float64   `json:"price_per_m2"`
	ObservedAt   time.Time `json:"observed_at"`
}

var historyPeriods = map[string]time.Duration{
	"1m":  30 * 24 * time.Hour,
	"3m":  90 * 24 * time.Hour,
	"6m":  180 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"all": 0,
}

// priceHistory serves either one listing's history (source and id) or the
// recent observations of a city (city, optional neighborhood and period).
func (s *Server) priceHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Properties == nil {
		writeError(w, http.StatusServiceUnavailable, "property store is not configured")
		return
	}
	params := r.URL.Query()
	source, id := params.Get("source"), params.Get("id")

	if source != "" || id != "" {
		if source == "" || id == "" {
			writeError(w, http.StatusBadRequest, "source and id must be given together")
			return
		}
		history, err := s.deps.Properties.PriceHistory(r.Context(), source, id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no history for %s/%s", source, id))
			return
		}
		if err != nil {
			s.internalError(w, r, "price history", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":  source,
			"id":      id,
			"history": history,
		})
		return
	}

	city := strings.TrimSpace(params.Get("city"))
	if city == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}
	period := strings.ToLower(params.Get("period"))
	if period == "" {
		period = "3m"
	}
	window, ok := historyPeriods[period]
	if !ok {
		writeError(w, http.StatusBadRequest, "period must be one of 1m, 3m, 6m, 1y, all")
		return
	}

	f := storage.PropertyFilter{
		City:         city,
		Neighborhood: strings.TrimSpace(params.Get("neighborhood")),
		Limit:        analysisSampleLimit,
	}
	if window > 0 {
		f.Since = time.Now().UTC().Add(-window)
	}
	records, err := s.deps.Properties.Search(r.Context(), f)
	if err != nil {
		s.internalError(w, r, "price history search", err)
		return
	}

	points := make([]HistoryPoint, 0, len(records))
	for _, rec := range records {
		points = append(points, HistoryPoint{
			Source:       rec.Source,
			ID:           rec.ID,
			Neighborhood: rec.Neighborhood,
			Price:        rec.Price,
			PricePerM2:   rec.PricePerM2(),
			ObservedAt:   rec.AcquiredAt,
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].ObservedAt.Before(points[j].ObservedAt) })

	writeJSON(w, http.StatusOK, map[string]any{
		"city":         city,
		"neighborhood": f.Neighborhood,
		"period":       period,
		"points":       points,
		"summary":      summarize(records),
	})
}

func (s *Server) neighborhoodStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics store is not configured")
		return
	}
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}
	stats, err := s.deps.Snapshots.NeighborhoodStats(r.Context(), city)
	if err != nil {
		s.internalError(w, r, "neighborhood stats", err)
		return
	}

	if hood := strings.TrimSpace(r.URL.Query().Get("neighborhood")); hood != "" {
		filtered := stats[:0:0]
		for _, st := range stats {
			if strings.EqualFold(st.Neighborhood, hood) {
				filtered = append(filtered, st)
			}
		}
		if len(filtered) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no data for %s in %s", hood, city))
			return
		}
		stats = filtered
	}
	if stats == nil {
		stats = []domain.NeighborhoodStat{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"city":          city,
		"neighborhoods": stats,
	})
}

// MarketSummary describes the price distribution of a record set.
type MarketSummary struct {
	Listings      int     `json:"listings"`
	AvgPrice      float64 `json:"avg_price"`
	MedianPrice   float64 `json:"median_price"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	AvgPricePerM2 float64 `json:"avg_price_per_m2"`
}

func summarize(records []domain.PropertyRecord) MarketSummary {
	var sum MarketSummary
	if len(records) == 0 {
		return sum
	}
	prices := make([]float64, 0, len(records))
	var total, perM2Total float64
	var perM2Count int
	for _, rec := range records {
		prices = append(prices, rec.Price)
		total += rec.Price
		if v := rec.PricePerM2(); v > 0 {
			perM2Total += v
			perM2Count++
		}
	}
	sort.Float64s(prices)

	sum.Listings = len(records)
	sum.AvgPrice = total / float64(len(records))
	sum.MinPrice = prices[0]
	sum.MaxPrice = prices[len(prices)-1]
	if mid := len(prices) / 2; len(prices)%2 == 1 {
		sum.MedianPrice = prices[mid]
	} else {
		sum.MedianPrice = (prices[mid-1] + prices[mid]) / 2
	}
	if perM2Count > 0 {
		sum.AvgPricePerM2 = perM2Total / float64(perM2Count)
	}
	return sum
}

func (s *Server) marketAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.deps.Properties == nil || s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis stores are not configured")
		return
	}
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}

	records, err := s.deps.Properties.Search(r.Context(), storage.PropertyFilter{City: city, Limit: analysisSampleLimit})
	if err != nil {
		s.internalError(w, r, "market analysis search", err)
		return
	}
	stats, err := s.deps.Snapshots.NeighborhoodStats(r.Context(), city)
	if err != nil {
		s.internalError(w, r, "market analysis stats", err)
		return
	}

	ranking := append([]domain.NeighborhoodStat{}, stats...)
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].AvgPricePerM2 > ranking[j].AvgPricePerM2 })
	if len(ranking) > rankingSize {
		ranking = ranking[:rankingSize]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"city":                  city,
		"summary":               summarize(records),
		"neighborhood_rankings": ranking,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Stats())
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
