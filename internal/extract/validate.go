package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

const recordSchemaURL = "invoice_record.json"

// recordSchema requires every field to be present and non-empty.
const recordSchema = `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": "string", "minLength": 1},
    "vendor":         {"type": "string", "minLength": 1},
    "date":           {"type": "string", "minLength": 1},
    "total":          {"type": "string", "minLength": 1}
  },
  "required": ["invoice_number", "vendor", "date", "total"]
}`

// IncompleteError reports which fields kept a record from validating.
type IncompleteError struct {
	Missing []string
	Cause   error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete record: missing %s", strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Unwrap() []error {
	return []error{common.ErrValidation, e.Cause}
}

// Validator decides whether an ExtractedRecord is complete enough to persist.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(recordSchemaURL, strings.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Check returns nil when all four fields are set and non-empty, and an
// *IncompleteError otherwise.
func (v *Validator) Check(rec entity.ExtractedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return &IncompleteError{Missing: rec.Missing(), Cause: err}
	}
	return nil
}

// Valid reports whether rec passes Check.
func (v *Validator) Valid(rec entity.ExtractedRecord) bool {
	return v.Check(rec) == nil
}
