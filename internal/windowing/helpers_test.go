package windowing_test

import (
	"github.com/petasbytes/event-handler/internal/windowing"
	"github.com/petasbytes/event-handler/memory"
)

func T(text string) memory.Block { return memory.Text(text) }

// TU builds a tool_use block with no name or input, so it costs overhead only.
func TU(id string) memory.Block { return memory.ToolUse(id, "", nil) }

func TR(id string, isErr bool) memory.Block { return memory.ToolResult(id, "", isErr) }

func TRString(id, s string) memory.Block { return memory.ToolResult(id, s, false) }

func Asst(blocks ...memory.Block) memory.Message { return memory.NewAssistantMessage(blocks...) }

func User(blocks ...memory.Block) memory.Message { return memory.NewUserMessage(blocks...) }

func groupsEqual(got, want []windowing.Group) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
