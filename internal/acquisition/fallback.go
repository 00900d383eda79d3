package acquisition

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"property-acquisition/internal/adapters"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/idhash"
)

// FallbackSource is the source name of synthesized records.
const FallbackSource = "fallback"

// Synthesis bounds.
const (
	fallbackMinCount  = 8
	fallbackMaxCount  = 15
	fallbackMinFactor = 0.6
	fallbackMaxFactor = 2.5
	fallbackMinSize   = 45
	fallbackMaxSize   = 220
)

type cityBaseline struct {
	city          string
	basePrice     float64
	neighborhoods []string
}

// baselines holds static market figures per city. The first entry is the
// default for cities without figures.
var baselines = []cityBaseline{
	{"São Paulo", 650000, []string{"Vila Madalena", "Pinheiros", "Jardins"}},
	{"Rio de Janeiro", 580000, []string{"Copacabana", "Ipanema", "Leblon"}},
	{"Brasília", 450000, []string{"Asa Sul", "Asa Norte", "Lago Sul"}},
	{"Belo Horizonte", 380000, []string{"Savassi", "Lourdes", "Funcionários"}},
	{"Salvador", 320000, []string{"Barra", "Ondina", "Campo Grande"}},
	{"Fortaleza", 280000, []string{"Meireles", "Aldeota", "Cocó"}},
}

var propertyTypes = []string{"apartment", "house", "condo"}

func baselineFor(city string) cityBaseline {
	key := adapters.FoldText(city)
	for _, b := range baselines {
		if adapters.FoldText(b.city) == key {
			return b
		}
	}
	return baselines[0]
}

// Fallback synthesizes plausible records for q from static city baselines.
// Candidates outside q's price range or bedroom count are discarded; when
// nothing survives, the last candidate is clamped into the constraints so
// the result is never empty. Every record is flagged Synthetic.
func Fallback(q domain.Query, now time.Time, rng *rand.Rand) []domain.PropertyRecord {
	b := baselineFor(q.City)
	city := q.City
	if city == "" {
		city = b.city
	}
	crit := Criteria{PriceMin: q.PriceMin, PriceMax: q.PriceMax, Bedrooms: q.Bedrooms}

	n := fallbackMinCount + rng.IntN(fallbackMaxCount-fallbackMinCount+1)
	out := make([]domain.PropertyRecord, 0, n)
	var last domain.PropertyRecord
	for i := 0; i < n; i++ {
		last = synthesize(i, b, city, now, rng)
		if crit.Match(last) {
			out = append(out, last)
		}
	}
	if len(out) == 0 {
		out = append(out, clampInto(last, q))
	}
	return out
}

func synthesize(i int, b cityBaseline, city string, now time.Time, rng *rand.Rand) domain.PropertyRecord {
	factor := fallbackMinFactor + rng.Float64()*(fallbackMaxFactor-fallbackMinFactor)
	hood := b.neighborhoods[i%len(b.neighborhoods)]
	r := domain.PropertyRecord{
		ID:           fmt.Sprintf("%s_%s_%d_%04d", FallbackSource, adapters.CitySlug(city), i, 1000+rng.IntN(9000)),
		Title:        fmt.Sprintf("Imóvel em %s - %s", city, hood),
		Price:        math.Round(b.basePrice * factor),
		Size:         fallbackMinSize + rng.IntN(fallbackMaxSize-fallbackMinSize+1),
		Bedrooms:     1 + rng.IntN(4),
		Bathrooms:    1 + rng.IntN(3),
		PropertyType: propertyTypes[rng.IntN(len(propertyTypes))],
		Neighborhood: hood,
		City:         city,
		Address:      hood + ", " + city,
		Source:       FallbackSource,
		AcquiredAt:   now.UTC(),
		Synthetic:    true,
	}
	r.ContentHash = idhash.ContentHash(r)
	return r
}

func clampInto(r domain.PropertyRecord, q domain.Query) domain.PropertyRecord {
	if q.PriceMax > 0 && r.Price > q.PriceMax {
		r.Price = q.PriceMax
	}
	if q.PriceMin > 0 && r.Price < q.PriceMin {
		r.Price = q.PriceMin
	}
	if q.Bedrooms > 0 {
		r.Bedrooms = q.Bedrooms
	}
	r.ContentHash = idhash.ContentHash(r)
	return r
}
