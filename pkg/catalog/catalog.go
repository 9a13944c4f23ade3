package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Category groups tools for category-level policy overrides
type Category string

const (
	CategoryQuery    Category = "query"
	CategoryCreate   Category = "create"
	CategoryUpdate   Category = "update"
	CategoryDelete   Category = "delete"
	CategoryExternal Category = "external"
)

// AllCategories returns all valid tool categories
func AllCategories() []Category {
	return []Category{
		CategoryQuery,
		CategoryCreate,
		CategoryUpdate,
		CategoryDelete,
		CategoryExternal,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := Category(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// RiskLevel classifies the real-world impact of executing a tool
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValidRiskLevel checks if a risk level is valid
func IsValidRiskLevel(level string) bool {
	switch RiskLevel(strings.ToLower(level)) {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Parameter defines a single parameter of a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Format      string      `json:"format,omitempty"` // e.g. email, date-time
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler. Definitions are
// immutable after registration and safe to share across concurrent requests.
type ToolDefinition struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Category             Category    `json:"category"`
	RiskLevel            RiskLevel   `json:"risk_level"`
	Parameters           []Parameter `json:"parameters"`
	RequiredIntegrations []string    `json:"required_integrations,omitempty"`
	RequiresApproval     bool        `json:"requires_approval"` // default approval requirement
	Handler              Handler     `json:"-"`
}

// Registry manages tool definitions. It is an explicit value passed by
// reference into the orchestrator, never a global singleton.
type Registry struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register registers a new tool. The definition is copied and never mutated
// afterwards.
func (r *Registry) Register(def ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().
		Str("tool", def.Name).
		Str("category", string(def.Category)).
		Str("risk_level", string(def.RiskLevel)).
		Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil if not registered
func (r *Registry) Get(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tools[name]
}

// Schema returns the compiled parameter schema for a tool
func (r *Registry) Schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.schemas[name]
}

// List returns all registered tool names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	return names
}

// FilterByCategory returns tool definitions in a specific category
func (r *Registry) FilterByCategory(category Category) []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := []*ToolDefinition{}
	for _, tool := range r.tools {
		if tool.Category == category {
			filtered = append(filtered, tool)
		}
	}

	return filtered
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// validateDefinition validates a tool definition before registration
func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %q for %s", def.Category, def.Name)
	}
	if !IsValidRiskLevel(string(def.RiskLevel)) {
		return fmt.Errorf("invalid risk level %q for %s", def.RiskLevel, def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// compileSchema generates a JSON Schema from tool parameters
func compileSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Format != "" {
			paramSchema["format"] = param.Format
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	loader := gojsonschema.NewGoLoader(schemaMap)
	return gojsonschema.NewSchema(loader)
}
