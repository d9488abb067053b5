package tools

import "github.com/petasbytes/event-handler/internal/fsops"

// Registry returns the built-in tool definitions. Document tools are included
// only when docs is non-nil.
func Registry(docs *fsops.Reader) []ToolDefinition {
	defs := []ToolDefinition{CalculatorDefinition, CurrentTimeDefinition}
	if docs != nil {
		defs = append(defs, DocTools(docs)...)
	}
	return defs
}
