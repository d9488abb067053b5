package tools

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

// Executor runs one tool invocation. The returned value must be JSON-serializable.
type Executor func(ctx context.Context, input json.RawMessage) (any, error)

// Executors maps tool names to their handlers.
type Executors map[string]Executor

type ToolDefinition struct {
	Name        string
	Description string
	InputSchema anthropic.ToolInputSchemaParam
	Function    Executor
}

// ExecutorsOf collects the handlers of defs, skipping definitions without one.
func ExecutorsOf(defs []ToolDefinition) Executors {
	out := make(Executors, len(defs))
	for _, d := range defs {
		if d.Function != nil {
			out[d.Name] = d.Function
		}
	}
	return out
}

// GenerateSchema reflects T into the input schema shape the Messages API expects.
func GenerateSchema[T any]() anthropic.ToolInputSchemaParam {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return anthropic.ToolInputSchemaParam{
		Properties: schema.Properties,
		Required:   schema.Required,
	}
}

// decode unmarshals a tool input, treating an empty payload as {}.
func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	return json.Unmarshal(input, v)
}
