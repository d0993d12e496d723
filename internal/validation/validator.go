// Package validation compiles per-category JSON Schemas and applies them to
// task requirements (hard reject on create) and submitted deliverables (soft
// flag on submit).
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect schema failures.
var ErrValidation = errors.New("validation failed")

// Validator holds the compiled schemas, keyed by task category.
type Validator struct {
	requirementSchemas map[string]*jsonschema.Schema
	deliverableSchemas map[string]*jsonschema.Schema
}

// NewValidator loads every *.json file from schemaDir and compiles the
// requirements_schema and deliverable_schema it wraps. The file name minus
// extension is the category.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	reqSchemas := make(map[string]*jsonschema.Schema)
	delSchemas := make(map[string]*jsonschema.Schema)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		category := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		var file struct {
			RequirementsSchema json.RawMessage `json:"requirements_schema"`
			DeliverableSchema  json.RawMessage `json:"deliverable_schema"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
		if len(file.RequirementsSchema) == 0 || len(file.DeliverableSchema) == 0 {
			return nil, fmt.Errorf("%q: missing requirements_schema or deliverable_schema", path)
		}
		reqID := "https://bountyboard.dev/schemas/" + category + ".requirements"
		delID := "https://bountyboard.dev/schemas/" + category + ".deliverable"
		reqSchemas[category], err = jsonschema.CompileString(reqID, string(file.RequirementsSchema))
		if err != nil {
			return nil, fmt.Errorf("compile requirements schema %q: %w", category, err)
		}
		delSchemas[category], err = jsonschema.CompileString(delID, string(file.DeliverableSchema))
		if err != nil {
			return nil, fmt.Errorf("compile deliverable schema %q: %w", category, err)
		}
	}

	return &Validator{
		requirementSchemas: reqSchemas,
		deliverableSchemas: delSchemas,
	}, nil
}

// Categories returns the known category names.
func (v *Validator) Categories() []string {
	out := make([]string, 0, len(v.requirementSchemas))
	for c := range v.requirementSchemas {
		out = append(out, c)
	}
	return out
}

// ValidateRequirements is the hard reject: task creation fails when the
// structured requirements do not match the category's schema. A category
// without a schema accepts anything.
func (v *Validator) ValidateRequirements(category string, requirements json.RawMessage) error {
	schema, ok := v.requirementSchemas[category]
	if !ok {
		return nil
	}
	if len(requirements) == 0 {
		return fmt.Errorf("%w: requirements are required for category %q", ErrValidation, category)
	}
	var doc interface{}
	if err := json.Unmarshal(requirements, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateDeliverable is the soft flag: a failure is reported so the caller
// can record it on the submission, never rejecting the submit itself.
func (v *Validator) ValidateDeliverable(category string, deliverable json.RawMessage) error {
	schema, ok := v.deliverableSchemas[category]
	if !ok {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(deliverable, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
