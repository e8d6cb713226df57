package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const recordSchemaURL = "https://offlinesync.local/schemas/activity-record.json"

const recordSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["studentName", "activity", "date", "hours"],
  "properties": {
    "studentName": {"type": "string", "minLength": 1, "pattern": "\\S"},
    "activity": {"type": "string", "minLength": 1, "pattern": "\\S"},
    "date": {"type": "string", "format": "date"},
    "hours": {"type": "integer", "minimum": 1, "maximum": 8}
  }
}`

var loadRecordSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse record schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(recordSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add record schema: %w", err)
	}
	return c.Compile(recordSchemaURL)
})

// ValidateJSON checks a raw record payload against the record schema. Unknown
// fields are ignored.
func ValidateJSON(payload []byte) error {
	schema, err := loadRecordSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Validate reports whether the draft can be persisted.
func (d Draft) Validate() error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return ValidateJSON(payload)
}
