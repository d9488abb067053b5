package windowing

import "github.com/petasbytes/event-handler/memory"

// StripBlocks returns msgs without the blocks for which drop reports true.
// Messages left with no content are omitted. msgs is not modified.
func StripBlocks(msgs []memory.Message, drop func(memory.Block) bool) []memory.Message {
	out := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		kept := make([]memory.Block, 0, len(m.Content))
		for _, b := range m.Content {
			if !drop(b) {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, memory.Message{Role: m.Role, Content: kept})
	}
	return out
}

// TrimLeadingOrphans drops leading messages that cannot open a conversation:
// assistant messages, and user messages carrying tool_result blocks whose
// tool_use was trimmed away.
func TrimLeadingOrphans(msgs []memory.Message) []memory.Message {
	i := 0
	for i < len(msgs) && (msgs[i].Role != memory.RoleUser || hasToolResult(msgs[i])) {
		i++
	}
	return msgs[i:]
}

// TurnStart returns the index of the user text message that opened the
// current turn: the last user message carrying no tool_result. It returns 0
// when there is none.
func TurnStart(msgs []memory.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == memory.RoleUser && !hasToolResult(msgs[i]) {
			return i
		}
	}
	return 0
}
