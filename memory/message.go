package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBlock is returned when a content block carries an unsupported type.
var ErrUnknownBlock = errors.New("unknown content block type")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of Block.
type BlockType string

const (
	BlockText            BlockType = "text"
	BlockToolUse         BlockType = "tool_use"
	BlockToolResult      BlockType = "tool_result"
	BlockServerToolUse   BlockType = "server_tool_use"
	BlockWebSearchResult BlockType = "web_search_tool_result"
)

// Block is a single content block. Which fields are meaningful depends on Type:
//
//	text                    Text
//	tool_use                ID, Name, Input
//	tool_result             ToolUseID, Content, IsError
//	server_tool_use         ID, Name, Input
//	web_search_tool_result  ToolUseID, Payload
//
// Payload is the provider's raw result content, kept so the block can be sent
// back unchanged.
type Block struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate reports ErrUnknownBlock for unsupported types.
func (b Block) Validate() error {
	switch b.Type {
	case BlockText, BlockToolUse, BlockToolResult, BlockServerToolUse, BlockWebSearchResult:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlock, b.Type)
	}
}

// IsServerSide reports whether the block was produced by a provider-executed tool.
func (b Block) IsServerSide() bool {
	return b.Type == BlockServerToolUse || b.Type == BlockWebSearchResult
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type plain Block
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Block(p).Validate(); err != nil {
		return err
	}
	*b = Block(p)
	return nil
}

func Text(s string) Block { return Block{Type: BlockText, Text: s} }

func ToolUse(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResult(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one turn entry: a role plus ordered content blocks.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

func NewUserMessage(blocks ...Block) Message {
	return Message{Role: RoleUser, Content: blocks}
}

func NewAssistantMessage(blocks ...Block) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// UnmarshalJSON accepts content either as a block array or as a bare string,
// which decodes to a single text block.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Role != RoleUser && raw.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", raw.Role)
	}
	out := Message{Role: raw.Role}
	trimmed := bytes.TrimSpace(raw.Content)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		out.Content = []Block{Text(s)}
	default:
		if err := json.Unmarshal(trimmed, &out.Content); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// ToolUses returns the tool_use blocks in order.
func (m Message) ToolUses() []Block {
	var out []Block
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// JoinedText concatenates text blocks with newlines, in block order.
func (m Message) JoinedText() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CloneMessages returns a copy whose block slices are not shared with msgs.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: append([]Block(nil), m.Content...)}
	}
	return out
}
