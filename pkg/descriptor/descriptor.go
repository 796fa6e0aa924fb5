// Package descriptor validates Meta values against the JSON Schema
// published in a PropertyDescriptor or ActionDescriptor (spec.md §4.D,
// §6), grounded on the compile-then-validate shape used by
// registry.validatePayloadJSONAgainstSchema in the pack's goa-ai registry
// service.
package descriptor

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cuemby/devicehub/pkg/meta"
)

// PropertyDescriptor documents a property's wire shape and constraints
// for discovery clients and schema-backed validation.
type PropertyDescriptor struct {
	Name     string          `json:"name"`
	Writable bool            `json:"writable"`
	Kind     string          `json:"kind"`
	Schema   json.RawMessage `json:"schema,omitempty"`
}

// ActionDescriptor documents an action's argument and result schemas.
type ActionDescriptor struct {
	Name         string          `json:"name"`
	ArgsSchema   json.RawMessage `json:"argsSchema,omitempty"`
	ResultSchema json.RawMessage `json:"resultSchema,omitempty"`
}

// ValidateAgainstSchema compiles schemaJSON and validates value (already
// converted to a plain JSON-compatible document) against it. An empty
// schema always validates.
func ValidateAgainstSchema(value meta.Meta, schemaJSON json.RawMessage) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("descriptor: unmarshal schema: %w", err)
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("descriptor: marshal value: %w", err)
	}
	var valueDoc any
	if err := json.Unmarshal(valueJSON, &valueDoc); err != nil {
		return fmt.Errorf("descriptor: unmarshal value: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("descriptor.json", schemaDoc); err != nil {
		return fmt.Errorf("descriptor: add schema resource: %w", err)
	}
	schema, err := c.Compile("descriptor.json")
	if err != nil {
		return fmt.Errorf("descriptor: compile schema: %w", err)
	}

	if err := schema.Validate(valueDoc); err != nil {
		return fmt.Errorf("descriptor: validation failed: %w", err)
	}
	return nil
}

// ValidateArgs validates action call arguments against an
// ActionDescriptor's ArgsSchema.
func ValidateArgs(d ActionDescriptor, args meta.Meta) error {
	return ValidateAgainstSchema(args, d.ArgsSchema)
}

// ValidateResult validates an action's result against its ResultSchema.
func ValidateResult(d ActionDescriptor, result meta.Meta) error {
	return ValidateAgainstSchema(result, d.ResultSchema)
}

// ValidateProperty validates a property write against its Schema.
func ValidateProperty(d PropertyDescriptor, value meta.Meta) error {
	return ValidateAgainstSchema(value, d.Schema)
}
