package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidQuery is returned when a query lacks a city or a state.
var ErrInvalidQuery = errors.New("invalid query: city and state are required")

// Defaults applied by Query.Normalize.
const (
	DefaultTransactionType = "venda"
	DefaultPage            = 1
	DefaultMaxPages        = 1
	MaxPerPage             = 100

	// MaxPagesLimit caps the result pages walked per source in one run.
	MaxPagesLimit = 10
)

// Query is one logical property search. Zero values mean "no constraint".
type Query struct {
	City            string  `json:"city"`
	State           string  `json:"state"`
	TransactionType string  `json:"transaction_type,omitempty"` // venda | aluguel
	PriceMin        float64 `json:"min_price,omitempty"`
	PriceMax        float64 `json:"max_price,omitempty"`
	SizeMin         int     `json:"min_size,omitempty"` // m²
	SizeMax         int     `json:"max_size,omitempty"` // m²
	Bedrooms        int     `json:"bedrooms,omitempty"`
	Bathrooms       int     `json:"bathrooms,omitempty"`
	PropertyType    string  `json:"property_type,omitempty"`
	Page            int     `json:"page,omitempty"`
	MaxPages        int     `json:"max_pages,omitempty"`
}

// Validate checks the required fields.
func (q Query) Validate() error {
	if strings.TrimSpace(q.City) == "" || strings.TrimSpace(q.State) == "" {
		return ErrInvalidQuery
	}
	if q.PriceMin < 0 || q.PriceMax < 0 || q.SizeMin < 0 || q.SizeMax < 0 || q.Bedrooms < 0 || q.Bathrooms < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidQuery)
	}
	if q.PriceMax > 0 && q.PriceMin > q.PriceMax {
		return fmt.Errorf("%w: min_price exceeds max_price", ErrInvalidQuery)
	}
	return nil
}

// Normalize returns a copy with trimmed strings and defaults filled in.
func (q Query) Normalize() Query {
	q.City = strings.TrimSpace(q.City)
	q.State = strings.ToUpper(strings.TrimSpace(q.State))
	q.TransactionType = strings.ToLower(strings.TrimSpace(q.TransactionType))
	if q.TransactionType == "" {
		q.TransactionType = DefaultTransactionType
	}
	q.PropertyType = strings.ToLower(strings.TrimSpace(q.PropertyType))
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.MaxPages < 1 {
		q.MaxPages = DefaultMaxPages
	}
	if q.MaxPages > MaxPagesLimit {
		q.MaxPages = MaxPagesLimit
	}
	return q
}

// CanonicalFields returns the non-zero fields as sorted "name=value" pairs.
// Two queries with the same constraints yield the same slice regardless of
// how they were built.
func (q Query) CanonicalFields() []string {
	fields := map[string]string{
		"city":             q.City,
		"state":            q.State,
		"transaction_type": q.TransactionType,
		"property_type":    q.PropertyType,
	}
	if q.PriceMin > 0 {
		fields["min_price"] = strconv.FormatFloat(q.PriceMin, 'f', -1, 64)
	}
	if q.PriceMax > 0 {
		fields["max_price"] = strconv.FormatFloat(q.PriceMax, 'f', -1, 64)
	}
	ints := map[string]int{
		"min_size":  q.SizeMin,
		"max_size":  q.SizeMax,
		"bedrooms":  q.Bedrooms,
		"bathrooms": q.Bathrooms,
		"page":      q.Page,
		"max_pages": q.MaxPages,
	}
	for k, v := range ints {
		if v != 0 {
			fields[k] = strconv.Itoa(v)
		}
	}

	out := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
