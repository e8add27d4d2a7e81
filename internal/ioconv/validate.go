package ioconv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/me/weaver/pkg/model"
)

const inputsSchemaURL = "weaver://execute/inputs.json"

// InputsSchema returns the JSON schema of an execute request's inputs
// mapping for a process accepting ios. Literal values may be given bare or
// qualified as {"value": ...}; complex values as a string, an inline object
// or a {"href": ...} reference.
func (c *Converter) InputsSchema(ios []model.ProcessIO) map[string]any {
	props := make(map[string]any, len(ios))
	var required []any
	for _, io := range ios {
		props[io.ID] = c.inputValueSchema(io)
		if io.MinOccurs > 0 && (io.Literal == nil || io.Literal.Default == nil) {
			required = append(required, io.ID)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (c *Converter) inputValueSchema(io model.ProcessIO) map[string]any {
	var item map[string]any
	switch io.Kind {
	case model.IOLiteral:
		lit := c.itemSchema(io)
		delete(lit, "default")
		item = map[string]any{"anyOf": []any{
			lit,
			map[string]any{
				"type":       "object",
				"required":   []any{"value"},
				"properties": map[string]any{"value": lit},
			},
		}}
	case model.IOBBox:
		item = c.itemSchema(io)
	default:
		item = map[string]any{
			"type":       []any{"string", "object"},
			"properties": map[string]any{"href": map[string]any{"type": "string"}},
		}
	}
	if !io.IsArray() {
		return item
	}
	arr := map[string]any{"type": "array", "items": item}
	if io.MinOccurs > 1 {
		arr["minItems"] = io.MinOccurs
	}
	if io.MaxOccurs != model.Unbounded {
		arr["maxItems"] = io.MaxOccurs
	}
	return map[string]any{"anyOf": []any{item, arr}}
}

// ValidateInputs checks execute inputs against the process inputs ios. A
// failure is returned as a validation *model.APIError with one detail per
// offending input.
func (c *Converter) ValidateInputs(ios []model.ProcessIO, inputs map[string]any) error {
	schemaJSON, err := json.Marshal(c.InputsSchema(ios))
	if err != nil {
		return fmt.Errorf("marshal inputs schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external schema reference not supported: %s", url)
	}
	if err := compiler.AddResource(inputsSchemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load inputs schema: %w", err)
	}
	schema, err := compiler.Compile(inputsSchemaURL)
	if err != nil {
		return fmt.Errorf("compile inputs schema: %w", err)
	}

	// The validator expects values as encoding/json produces them.
	raw, err := json.Marshal(inputs)
	if err != nil {
		return model.NewValidationError("inputs are not valid JSON", model.FieldError{Field: "inputs", Message: err.Error()})
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode inputs: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate inputs: %w", err)
	}
	return model.NewValidationError("invalid execution inputs", fieldErrors(ve)...)
}

// fieldErrors flattens a validation error tree to one detail per input.
func fieldErrors(ve *jsonschema.ValidationError) []model.FieldError {
	var out []model.FieldError
	seen := make(map[string]bool)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		path := strings.TrimPrefix(e.InstanceLocation, "/")
		field, _, _ := strings.Cut(path, "/")
		if field == "" && strings.HasPrefix(e.Message, "missing properties") {
			for _, name := range quoted(e.Message) {
				if !seen[name] {
					seen[name] = true
					out = append(out, model.FieldError{Field: name, Path: "/" + name, Message: "required input is missing"})
				}
			}
			return
		}
		if field == "" {
			field = "inputs"
		}
		if seen[field] {
			return
		}
		seen[field] = true
		out = append(out, model.FieldError{Field: field, Path: e.InstanceLocation, Message: e.Message})
	}
	walk(ve)
	return out
}

// quoted returns the 'single-quoted' words of msg.
func quoted(msg string) []string {
	parts := strings.Split(msg, "'")
	var out []string
	for i := 1; i < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return out
}
