// Package toolschema compiles the JSON Schemas declared on tools
// (query_schema and body_schema) and validates call payloads against them
// before anything leaves the service.
package toolschema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pendulo/formstudio/model"
)

// ValidationError describes a single schema violation in a tool call.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CompiledTool holds the parsed schemas of one tool. Either schema may be
// nil when the tool does not declare it.
type CompiledTool struct {
	Name  string
	Query *openapi3.Schema
	Body  *openapi3.Schema
}

// Compile parses a tool's declared schemas. A tool without schemas compiles
// to an entry that accepts any payload.
func Compile(tool *model.Tool) (*CompiledTool, error) {
	ct := &CompiledTool{Name: tool.Name}

	var err error
	if ct.Query, err = compileSchema(tool.QuerySchema); err != nil {
		return nil, fmt.Errorf("toolschema: %s query_schema: %w", tool.Name, err)
	}
	if ct.Body, err = compileSchema(tool.BodySchema); err != nil {
		return nil, fmt.Errorf("toolschema: %s body_schema: %w", tool.Name, err)
	}
	return ct, nil
}

func compileSchema(v model.Value) (*openapi3.Schema, error) {
	if v.IsZero() || v.Kind() == model.KindNull {
		return nil, nil
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, err
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, err
	}
	return schema, nil
}

// ValidateQuery checks query parameters against the compiled query schema.
func (ct *CompiledTool) ValidateQuery(params map[string]any) []ValidationError {
	return validate(ct.Query, params)
}

// ValidateBody checks a request body against the compiled body schema.
func (ct *CompiledTool) ValidateBody(body map[string]any) []ValidationError {
	return validate(ct.Body, body)
}

func validate(schema *openapi3.Schema, payload map[string]any) []ValidationError {
	if schema == nil {
		return nil
	}

	// Normalize through JSON so typed values (int, struct) compare the way
	// a decoded request would.
	var value any = payload
	if raw, err := json.Marshal(payload); err == nil {
		_ = json.Unmarshal(raw, &value)
	}

	err := schema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var errs []ValidationError
	if multi, ok := err.(openapi3.MultiError); ok {
		for _, e := range multi {
			errs = append(errs, toValidationError(e))
		}
		return errs
	}
	return []ValidationError{toValidationError(err)}
}

func toValidationError(err error) ValidationError {
	if se, ok := err.(*openapi3.SchemaError); ok {
		return ValidationError{
			Field:   strings.Join(se.JSONPointer(), "."),
			Message: se.Reason,
		}
	}
	return ValidationError{Message: err.Error()}
}
