package telemetry

import (
	"context"

	"github.com/petasbytes/event-handler/internal/metrics"
)

// EmitTurnStats records a turn_complete event correlated by turn ID and
// conversation key.
func EmitTurnStats(ctx context.Context, rounds int, s metrics.TurnStats) {
	if !ObserveEnabled() {
		return
	}
	turnID, _ := TurnIDFromContext(ctx)
	key, _ := ConversationKeyFromContext(ctx)
	Emit("turn_complete", map[string]any{
		"turn_id":          turnID,
		"conversation_key": key,
		"rounds":           rounds,
		"messages":         s.Messages,
		"tool_uses":        s.ToolUses,
		"tool_results":     s.ToolResults,
		"tool_errors":      s.ToolErrors,
		"server_tool_uses": s.ServerToolUses,
		"reply": map[string]any{
			"bytes": s.Reply.Bytes,
			"runes": s.Reply.Runes,
			"words": s.Reply.Words,
			"lines": s.Reply.Lines,
		},
	})
}
