package message

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema wraps a compiled JSON Schema used to validate a message subtype's
// scalar field set at construction time (validated by a schema
// defined per message subtype").
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (as raw JSON bytes) under the
// given resource name. The name only needs to be unique within this process;
// it is used purely as the schema compiler's internal resource identifier.
func CompileSchema(name string, schemaJSON []byte) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("message: unmarshal schema %q: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("message: add schema resource %q: %w", name, err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("message: compile schema %q: %w", name, err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks fields against the compiled schema. A nil Schema accepts
// anything — subtypes are not required to declare a schema.
func (s *Schema) Validate(fields map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	// jsonschema validates against the result of decoding JSON, so round-trip
	// fields through encoding/json to normalize numeric and nested types the
	// same way a deserialized Record would see them.
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("message: marshal fields for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("message: unmarshal fields for validation: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("message: schema validation: %w", err)
	}
	return nil
}

// textSchemaJSON is the schema backing TextType: a required string payload,
// an optional role tag, and an optional not_for_user flag used by some
// agents to mark messages that should not be surfaced to an end user.
const textSchemaJSON = `{
	"type": "object",
	"properties": {
		"payload": {"type": "string"},
		"role": {"type": "string"},
		"not_for_user": {"type": "boolean"}
	},
	"required": ["payload"]
}`

// errorSchemaJSON backs ErrorType, the subtype produced when
// errors_as_messages converts an uncaught producer error into a message.
const errorSchemaJSON = `{
	"type": "object",
	"properties": {
		"payload": {"type": "string"},
		"error_type": {"type": "string"},
		"error_text": {"type": "string"}
	},
	"required": ["payload", "error_type", "error_text"]
}`
