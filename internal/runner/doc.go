// Package runner drives one conversational turn: it calls the model, executes
// any client-side tools the model requested, and repeats until the model
// answers without requesting a local tool.
//
// Invariant:
//   - every assistant tool_use dispatched locally is answered by exactly one
//     tool_result in the user message that immediately follows it.
//
// Flow:
//
//	user(text) -> assistant(tool_use) -> user(tool_result) -> assistant(text)
package runner
