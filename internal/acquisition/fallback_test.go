package acquisition

import (
	"math/rand/v2"
	"testing"

	"property-acquisition/internal/domain"
)

func TestFallback_CityBaselines(t *testing.T) {
	tests := []struct {
		city      string
		basePrice float64
		hoods     []string
	}{
		{"São Paulo", 650000, []string{"Vila Madalena", "Pinheiros", "Jardins"}},
		{"sao paulo", 650000, []string{"Vila Madalena", "Pinheiros", "Jardins"}},
		{"Rio de Janeiro", 580000, []string{"Copacabana", "Ipanema", "Leblon"}},
		{"BRASILIA", 450000, []string{"Asa Sul", "Asa Norte", "Lago Sul"}},
		{"Fortaleza", 280000, []string{"Meireles", "Aldeota", "Cocó"}},
		{"Manaus", 650000, []string{"Vila Madalena", "Pinheiros", "Jardins"}},
	}

	for _, tt := range tests {
		t.Run(tt.city, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, 11))
			records := Fallback(domain.Query{City: tt.city, State: "XX"}, testNow, rng)

			if len(records) < fallbackMinCount || len(records) > fallbackMaxCount {
				t.Fatalf("expected %d-%d records, got %d", fallbackMinCount, fallbackMaxCount, len(records))
			}
			for _, r := range records {
				if r.Price < tt.basePrice*fallbackMinFactor-1 || r.Price > tt.basePrice*fallbackMaxFactor+1 {
					t.Errorf("price %v outside baseline band of %v", r.Price, tt.basePrice)
				}
				if !contains(tt.hoods, r.Neighborhood) {
					t.Errorf("unexpected neighborhood %q", r.Neighborhood)
				}
				if r.City != tt.city {
					t.Errorf("city %q, want caller's %q", r.City, tt.city)
				}
				if r.Bedrooms < 1 || r.Bedrooms > 4 {
					t.Errorf("bedrooms %d out of range", r.Bedrooms)
				}
				if !r.Synthetic || r.Source != FallbackSource {
					t.Errorf("record not flagged: %+v", r)
				}
				if r.ContentHash == "" || !r.AcquiredAt.Equal(testNow) {
					t.Errorf("record not enriched: %+v", r)
				}
			}
		})
	}
}

func TestFallback_HonorsConstraints(t *testing.T) {
	q := domain.Query{City: "Salvador", State: "BA", PriceMin: 300000, PriceMax: 500000, Bedrooms: 2}

	for seed := uint64(0); seed < 50; seed++ {
		records := Fallback(q, testNow, rand.New(rand.NewPCG(seed, seed+1)))
		if len(records) == 0 {
			t.Fatalf("seed %d: empty result", seed)
		}
		for _, r := range records {
			if r.Price < q.PriceMin || r.Price > q.PriceMax {
				t.Errorf("seed %d: price %v outside [%v, %v]", seed, r.Price, q.PriceMin, q.PriceMax)
			}
			if r.Bedrooms != q.Bedrooms {
				t.Errorf("seed %d: bedrooms %d, want %d", seed, r.Bedrooms, q.Bedrooms)
			}
		}
	}
}

func TestFallback_ClampsImpossibleConstraints(t *testing.T) {
	q := domain.Query{City: "São Paulo", State: "SP", PriceMax: 1000}

	records := Fallback(q, testNow, rand.New(rand.NewPCG(3, 4)))
	if len(records) != 1 {
		t.Fatalf("expected a single clamped record, got %d", len(records))
	}
	if records[0].Price != 1000 {
		t.Errorf("expected price clamped to 1000, got %v", records[0].Price)
	}
}

func TestFallback_IDsUnique(t *testing.T) {
	records := Fallback(domain.Query{City: "Recife", State: "PE"}, testNow, rand.New(rand.NewPCG(5, 6)))
	if got := len(DedupByID(records)); got != len(records) {
		t.Errorf("fallback ids collide: %d unique of %d", got, len(records))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
