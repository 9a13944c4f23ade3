package catalog

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError describes a single parameter validation failure
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationResult is the outcome of validating raw parameters against a
// tool's declared schema
type ValidationResult struct {
	Valid  bool
	Parsed map[string]interface{}
	Errors []FieldError
}

// ValidateParameters validates untyped call arguments against the tool's
// schema. Purely structural, deterministic, and side-effect free: it performs
// no I/O and can run before any integration or autonomy check.
func (r *Registry) ValidateParameters(toolName string, params map[string]interface{}) (ValidationResult, error) {
	schema := r.Schema(toolName)
	if schema == nil {
		return ValidationResult{}, fmt.Errorf("no schema for tool: %s", toolName)
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return ValidationResult{}, fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]FieldError, 0, len(result.Errors()))
		for _, resErr := range result.Errors() {
			errs = append(errs, FieldError{
				Path:    fieldPath(resErr),
				Message: resErr.Description(),
			})
		}
		return ValidationResult{Valid: false, Errors: errs}, nil
	}

	parsed := applyDefaults(r.Get(toolName), params)
	return ValidationResult{Valid: true, Parsed: parsed}, nil
}

// fieldPath derives a dotted path for a validation error. Required-field
// errors report "(root)" as the field, so the missing property name is taken
// from the error details instead.
func fieldPath(resErr gojsonschema.ResultError) string {
	field := resErr.Field()
	if field != "(root)" {
		return field
	}
	if prop, ok := resErr.Details()["property"].(string); ok && prop != "" {
		return prop
	}
	return field
}

// applyDefaults fills declared defaults for optional parameters that were
// not supplied. The input map is not mutated.
func applyDefaults(tool *ToolDefinition, params map[string]interface{}) map[string]interface{} {
	parsed := make(map[string]interface{}, len(params))
	for k, v := range params {
		parsed[k] = v
	}

	if tool == nil {
		return parsed
	}

	for _, param := range tool.Parameters {
		if param.Default == nil {
			continue
		}
		if _, ok := parsed[param.Name]; !ok {
			parsed[param.Name] = param.Default
		}
	}

	return parsed
}
