package validation

import (
	"errors"
	"testing"

	"property-acquisition/internal/domain"
)

func TestRecordValidator(t *testing.T) {
	v, err := NewRecordValidator()
	if err != nil {
		t.Fatalf("NewRecordValidator: %v", err)
	}

	valid := domain.PropertyRecord{
		ID:        "zap_1",
		Title:     "Apartamento",
		Price:     450000,
		Size:      70,
		Bedrooms:  2,
		Bathrooms: 1,
		City:      "São Paulo",
		Source:    "zap",
	}
	if err := v.Validate(valid); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *domain.PropertyRecord)
	}{
		{"empty id", func(r *domain.PropertyRecord) { r.ID = "" }},
		{"zero price", func(r *domain.PropertyRecord) { r.Price = 0 }},
		{"negative bedrooms", func(r *domain.PropertyRecord) { r.Bedrooms = -1 }},
		{"empty city", func(r *domain.PropertyRecord) { r.City = "" }},
		{"absurd size", func(r *domain.PropertyRecord) { r.Size = 1000000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := v.Validate(r); !errors.Is(err, ErrSchema) {
				t.Errorf("expected ErrSchema, got %v", err)
			}
		})
	}
}
