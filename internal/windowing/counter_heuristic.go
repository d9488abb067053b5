package windowing

import (
	"unicode/utf8"

	"github.com/petasbytes/event-handler/memory"
)

// TokenCounter estimates input-token cost for messages or groups.
type TokenCounter interface {
	CountMessage(m memory.Message) int
	CountGroup(g Group, all []memory.Message) int
}

// HeuristicCounter is a deterministic estimator:
//   - text blocks: rune count of Text
//   - tool_use and server_tool_use blocks: rune count of Name plus raw Input
//   - tool_result blocks: rune count of Content
//   - web_search_tool_result blocks: rune count of the raw Payload
//
// plus a fixed per-block overhead.
type HeuristicCounter struct{}

// Changing this requires updating the guard test.
const blockOverhead = 4

func (HeuristicCounter) CountMessage(m memory.Message) int {
	total := 0
	for _, b := range m.Content {
		total += countBlock(b)
	}
	return total
}

func (h HeuristicCounter) CountGroup(g Group, all []memory.Message) int {
	total := 0
	for i := g.Start; i < g.End && i < len(all); i++ {
		total += h.CountMessage(all[i])
	}
	return total
}

func countBlock(b memory.Block) int {
	switch b.Type {
	case memory.BlockText:
		return utf8.RuneCountInString(b.Text) + blockOverhead
	case memory.BlockToolUse, memory.BlockServerToolUse:
		return utf8.RuneCountInString(b.Name) + utf8.RuneCount(b.Input) + blockOverhead
	case memory.BlockToolResult:
		return utf8.RuneCountInString(b.Content) + blockOverhead
	case memory.BlockWebSearchResult:
		return utf8.RuneCount(b.Payload) + blockOverhead
	default:
		return blockOverhead
	}
}
