package windowing

import (
	"log/slog"

	"github.com/petasbytes/event-handler/memory"
)

// GroupKind denotes the atomic unit type when preparing a send window.
type GroupKind int

const (
	GroupSingleton GroupKind = iota
	GroupPair
)

// Group describes a contiguous span of messages [Start, End) in the original slice.
type Group struct {
	Kind  GroupKind
	Start int // inclusive
	End   int // exclusive
}

// GroupBlocks groups messages into atomic units that preserve tool-use pairs.
// Invariants:
//   - A pair is exactly two adjacent messages: assistant(tool_use+...) then user(tool_result...).
//   - In the user message, all tool_result blocks come first; text (if any) comes after.
//   - Every tool_use id in the assistant appears among the user's leading tool_result ids,
//     and no extra ids are present.
func GroupBlocks(msgs []memory.Message) []Group {
	groups := make([]Group, 0, len(msgs))
	for i := 0; i < len(msgs); {
		if msgs[i].Role == memory.RoleAssistant {
			useIDs := collectToolUseIDs(msgs[i])
			if len(useIDs) > 0 {
				if i+1 < len(msgs) && msgs[i+1].Role == memory.RoleUser {
					valid, resultIDs := leadingToolResultIDs(msgs[i+1])
					if valid && sameIDs(resultIDs, useIDs) {
						groups = append(groups, Group{Kind: GroupPair, Start: i, End: i + 2})
						i += 2
						continue
					}
					slog.Debug("windowing: exclude pair", "reason", "results_mismatch", "idx", i)
				} else {
					slog.Debug("windowing: exclude pair", "reason", "not_followed_by_user", "idx", i)
				}
			}
		}
		groups = append(groups, Group{Kind: GroupSingleton, Start: i, End: i + 1})
		i++
	}
	return groups
}

func collectToolUseIDs(m memory.Message) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, b := range m.Content {
		if b.Type == memory.BlockToolUse && b.ID != "" {
			ids[b.ID] = struct{}{}
		}
	}
	return ids
}

// leadingToolResultIDs returns valid=false if a tool_result follows any other
// block, plus the ids of the leading tool_result segment.
func leadingToolResultIDs(m memory.Message) (bool, map[string]struct{}) {
	ids := make(map[string]struct{})
	seenOther := false
	for _, b := range m.Content {
		if b.Type == memory.BlockToolResult {
			if seenOther {
				return false, ids
			}
			if b.ToolUseID != "" {
				ids[b.ToolUseID] = struct{}{}
			}
			continue
		}
		seenOther = true
	}
	return true, ids
}

func sameIDs(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func hasToolResult(m memory.Message) bool {
	for _, b := range m.Content {
		if b.Type == memory.BlockToolResult {
			return true
		}
	}
	return false
}
