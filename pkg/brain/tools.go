package brain

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool describes a tool the backend may invoke. InputSchema is a JSON
// Schema document for the tool's arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// NewTool builds a Tool whose input schema is reflected from input, which
// should be a struct (or pointer to one) describing the arguments.
func NewTool(name, description string, input any) (Tool, error) {
	if name == "" {
		return Tool{}, fmt.Errorf("tool name is required")
	}

	tool := Tool{Name: name, Description: description}
	if input == nil {
		return tool, nil
	}

	reflector := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema, err := json.Marshal(reflector.Reflect(input))
	if err != nil {
		return Tool{}, fmt.Errorf("reflect tool schema for %q: %w", name, err)
	}
	tool.InputSchema = schema
	return tool, nil
}
