// Package metadata validates task metadata documents against an optional
// JSON Schema configured per database.
package metadata

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks metadata documents against one compiled schema.
type Validator struct {
	schema *jsonschema.Schema
	source string
}

// New compiles schemaJSON. source names the schema in error messages.
func New(source string, schemaJSON []byte) (*Validator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", source, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("metadata.json", doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", source, err)
	}
	schema, err := c.Compile("metadata.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", source, err)
	}
	return &Validator{schema: schema, source: source}, nil
}

// Load reads and compiles the schema file at path.
func Load(path string) (*Validator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata schema: %w", err)
	}
	return New(path, raw)
}

// Validate reports the first schema violation in raw, nil if it conforms.
func (v *Validator) Validate(raw string) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("metadata is not JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("metadata does not match %s: %w", v.source, err)
	}
	return nil
}

// Source is the file or label the schema came from.
func (v *Validator) Source() string {
	return v.source
}
