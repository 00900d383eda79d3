package storage

import (
	"fmt"

	"property-acquisition/internal/domain"
)

// ValidateRecord checks the fields a store needs to key a record.
func ValidateRecord(r *domain.PropertyRecord) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	if r.ID == "" || r.Source == "" {
		return fmt.Errorf("%w: source and id are required", ErrInvalidInput)
	}
	if r.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	return nil
}

// ValidateRun checks a run before insert.
func ValidateRun(run *domain.AcquisitionRun) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("%w: run_id is required", ErrInvalidInput)
	}
	if run.Mode != domain.ModeFull && run.Mode != domain.ModeFast {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, run.Mode)
	}
	return nil
}
