// Package tools defines tool contracts and the built-in tool set.
//
// Includes:
//   - ToolDefinition: name, description, JSON input schema, handler.
//   - GenerateSchema[T](): derive JSON Schema from Go structs.
//   - Executors: name -> handler lookup used by the dispatch loop.
//   - calculator, current_time, and the read-only document tools list_docs / read_doc.
package tools
