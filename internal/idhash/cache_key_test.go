package idhash

import (
	"testing"

	"property-acquisition/internal/domain"
)

func TestCacheKey_FieldOrderIndependent(t *testing.T) {
	var a domain.Query
	a.City = "Rio de Janeiro"
	a.State = "RJ"
	a.Bedrooms = 2

	var b domain.Query
	b.Bedrooms = 2
	b.State = "RJ"
	b.City = "Rio de Janeiro"

	if CacheKey(a, []string{"zap", "vivareal"}) != CacheKey(b, []string{"zap", "vivareal"}) {
		t.Error("identical queries built in different order should share a cache key")
	}
}

func TestCacheKey_SourceOrderIndependent(t *testing.T) {
	q := domain.Query{City: "Salvador", State: "BA"}

	if CacheKey(q, []string{"zap", "vivareal"}) != CacheKey(q, []string{"vivareal", "zap"}) {
		t.Error("source order should not affect the cache key")
	}
}

func TestCacheKey_DifferentInputs(t *testing.T) {
	q := domain.Query{City: "Salvador", State: "BA", Page: 1}
	base := CacheKey(q, []string{"zap"})

	page2 := q
	page2.Page = 2
	if base == CacheKey(page2, []string{"zap"}) {
		t.Error("Different page should produce different key")
	}

	if base == CacheKey(q, []string{"zap", "vivareal"}) {
		t.Error("Different source set should produce different key")
	}

	priced := q
	priced.PriceMax = 400000
	if base == CacheKey(priced, []string{"zap"}) {
		t.Error("Different price bound should produce different key")
	}
}

func TestCacheKey_Determinism(t *testing.T) {
	q := domain.Query{City: "Fortaleza", State: "CE", PriceMin: 100000}

	first := CacheKey(q, []string{"zap"})
	for i := 0; i < 10; i++ {
		if got := CacheKey(q, []string{"zap"}); got != first {
			t.Fatalf("Determinism failed on iteration %d: %s != %s", i, got, first)
		}
	}
	if len(first) != 64 {
		t.Errorf("CacheKey() length = %d, want 64", len(first))
	}
}
