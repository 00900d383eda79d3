// Package validation checks extracted records against an embedded JSON schema.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"property-acquisition/internal/adapters"
	"property-acquisition/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const recordSchema = "schemas/property_record.json"

// ErrSchema is returned for records that violate the record schema.
var ErrSchema = errors.New("record violates schema")

// RecordValidator validates records with the compiled property record schema.
type RecordValidator struct {
	schema *jsonschema.Schema
}

var _ adapters.RecordValidator = (*RecordValidator)(nil)

// NewRecordValidator compiles the embedded schema.
func NewRecordValidator() (*RecordValidator, error) {
	data, err := schemaFS.ReadFile(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(recordSchema, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &RecordValidator{schema: schema}, nil
}

// Validate implements adapters.RecordValidator.
func (v *RecordValidator) Validate(r domain.PropertyRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
