package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/petasbytes/event-handler/memory"
	"github.com/petasbytes/event-handler/tools"
)

// toolParams prepends the server-side web_search tool to defs.
func toolParams(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs)+1)
	out = append(out, anthropic.ToolUnionParam{OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
		MaxUses: anthropic.Int(webSearchMaxUses),
	}})
	for _, t := range defs {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: t.InputSchema,
		}})
	}
	return out
}

func toParams(msgs []memory.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for i, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			p, err := toBlockParam(b)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			blocks = append(blocks, p)
		}
		switch m.Role {
		case memory.RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case memory.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	return out, nil
}

func toBlockParam(b memory.Block) (anthropic.ContentBlockParamUnion, error) {
	switch b.Type {
	case memory.BlockText:
		return anthropic.NewTextBlock(b.Text), nil
	case memory.BlockToolUse:
		var input any = map[string]any{}
		if len(b.Input) > 0 {
			if err := json.Unmarshal(b.Input, &input); err != nil {
				return anthropic.ContentBlockParamUnion{}, fmt.Errorf("tool_use %s input: %w", b.ID, err)
			}
		}
		return anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
			ID:    b.ID,
			Name:  b.Name,
			Input: input,
		}}, nil
	case memory.BlockToolResult:
		return anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError), nil
	case memory.BlockServerToolUse:
		var input any = map[string]any{}
		if len(b.Input) > 0 {
			if err := json.Unmarshal(b.Input, &input); err != nil {
				return anthropic.ContentBlockParamUnion{}, fmt.Errorf("server_tool_use %s input: %w", b.ID, err)
			}
		}
		return anthropic.ContentBlockParamUnion{OfServerToolUse: &anthropic.ServerToolUseBlockParam{
			ID:    b.ID,
			Input: input,
		}}, nil
	case memory.BlockWebSearchResult:
		content, err := webSearchContent(b.Payload)
		if err != nil {
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("web_search_tool_result %s: %w", b.ToolUseID, err)
		}
		return anthropic.ContentBlockParamUnion{OfWebSearchToolResult: &anthropic.WebSearchToolResultBlockParam{
			ToolUseID: b.ToolUseID,
			Content:   content,
		}}, nil
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("%w: %q is not sent to the api", memory.ErrUnknownBlock, b.Type)
	}
}

type webSearchItem struct {
	EncryptedContent string  `json:"encrypted_content"`
	Title            string  `json:"title"`
	URL              string  `json:"url"`
	PageAge          *string `json:"page_age"`
}

// webSearchContent rebuilds the request form of a stored search result: a
// JSON array of results, or an object carrying error_code.
func webSearchContent(payload json.RawMessage) (anthropic.WebSearchToolResultBlockParamContentUnion, error) {
	var out anthropic.WebSearchToolResultBlockParamContentUnion
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		out.OfWebSearchToolResultBlockItem = []anthropic.WebSearchResultBlockParam{}
		return out, nil
	}
	if trimmed[0] == '{' {
		var e struct {
			ErrorCode string `json:"error_code"`
		}
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return out, err
		}
		out.OfRequestWebSearchToolResultError = &anthropic.WebSearchToolRequestErrorParam{
			ErrorCode: anthropic.WebSearchToolRequestErrorErrorCode(e.ErrorCode),
		}
		return out, nil
	}
	var items []webSearchItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return out, err
	}
	results := make([]anthropic.WebSearchResultBlockParam, 0, len(items))
	for _, it := range items {
		r := anthropic.WebSearchResultBlockParam{
			EncryptedContent: it.EncryptedContent,
			Title:            it.Title,
			URL:              it.URL,
		}
		if it.PageAge != nil {
			r.PageAge = anthropic.String(*it.PageAge)
		}
		results = append(results, r)
	}
	out.OfWebSearchToolResultBlockItem = results
	return out, nil
}

func fromMessage(msg *anthropic.Message) (*Response, error) {
	resp := &Response{
		StopReason:   msg.StopReason,
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Content:      make([]memory.Block, 0, len(msg.Content)),
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, memory.Text(v.Text))
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, memory.ToolUse(v.ID, v.Name, rawInput(v.JSON.Input.Raw())))
		case anthropic.ServerToolUseBlock:
			resp.Content = append(resp.Content, memory.Block{
				Type:  memory.BlockServerToolUse,
				ID:    v.ID,
				Name:  string(v.Name),
				Input: rawInput(v.JSON.Input.Raw()),
			})
		case anthropic.WebSearchToolResultBlock:
			resp.Content = append(resp.Content, memory.Block{
				Type:      memory.BlockWebSearchResult,
				ToolUseID: v.ToolUseID,
				Payload:   rawPayload(v.JSON.Content.Raw()),
			})
		default:
			return nil, fmt.Errorf("%w: %q in response", memory.ErrUnknownBlock, block.Type)
		}
	}
	return resp, nil
}

func rawInput(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func rawPayload(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
