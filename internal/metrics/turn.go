// Package metrics derives cheap local statistics from conversation turns.
package metrics

import (
	"strings"
	"unicode/utf8"

	"github.com/petasbytes/event-handler/memory"
)

// Text holds size features of a piece of text.
type Text struct {
	Bytes int
	Runes int
	Words int
	Lines int
}

// CountText computes byte, rune, word and line counts for s.
func CountText(s string) Text {
	return Text{
		Bytes: len(s),
		Runes: utf8.RuneCountInString(s),
		Words: len(strings.Fields(s)),
		Lines: countLines(s),
	}
}

// countLines returns 0 for empty strings; otherwise 1 plus the number of '\n' runes.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return 1 + strings.Count(s, "\n")
}

// TurnStats summarizes the messages a single turn appended to a history.
type TurnStats struct {
	Messages       int
	ToolUses       int
	ToolResults    int
	ToolErrors     int
	ServerToolUses int
	Reply          Text
}

// Turn computes stats over added, the messages produced by one turn, and the
// final reply text.
func Turn(added []memory.Message, reply string) TurnStats {
	s := TurnStats{Messages: len(added), Reply: CountText(reply)}
	for _, m := range added {
		for _, b := range m.Content {
			switch b.Type {
			case memory.BlockToolUse:
				s.ToolUses++
			case memory.BlockToolResult:
				s.ToolResults++
				if b.IsError {
					s.ToolErrors++
				}
			case memory.BlockServerToolUse:
				s.ServerToolUses++
			}
		}
	}
	return s
}
