package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/petasbytes/event-handler/internal/gateway"
	"github.com/petasbytes/event-handler/internal/provider"
	"github.com/petasbytes/event-handler/memory"
	"github.com/petasbytes/event-handler/tools"
)

type cannedResponse struct {
	status     int
	body       string
	retryAfter string
}

type capture struct {
	header http.Header
	body   []byte
}

// fakeTransport replays canned responses in order; the last one repeats.
type fakeTransport struct {
	mu        sync.Mutex
	responses []cannedResponse
	captured  []capture
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, capture{header: req.Header.Clone(), body: b})
	r := f.responses[min(len(f.captured)-1, len(f.responses)-1)]

	resp := &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	if r.retryAfter != "" {
		resp.Header.Set("retry-after", r.retryAfter)
	}
	return resp, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captured)
}

const (
	okText      = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`
	rateLimited = `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	serverError = `{"type":"error","error":{"type":"api_error","message":"boom"}}`
)

func newGateway(t *testing.T, ft *fakeTransport, sleeps *[]time.Duration, mutate ...func(*gateway.Options)) *gateway.Gateway {
	t.Helper()
	opts := gateway.Options{
		APIKey:     "test-key",
		MaxRetries: 3,
		HTTPClient: &http.Client{Transport: ft},
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	g, err := gateway.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func hello() []memory.Message {
	return []memory.Message{memory.NewUserMessage(memory.Text("hello"))}
}

func TestNew_MissingAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		if _, err := gateway.New(gateway.Options{APIKey: key}); !errors.Is(err, gateway.ErrMissingAPIKey) {
			t.Fatalf("key %q: want ErrMissingAPIKey, got %v", key, err)
		}
	}
}

func TestCall_Success(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	resp, err := g.Call(context.Background(), hello(), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StopReason != "end_turn" || resp.InputTokens != 10 || resp.OutputTokens != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if msg := resp.Message(); msg.Role != memory.RoleAssistant || msg.JoinedText() != "hi there" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(sleeps) != 0 {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
}

func TestCall_RetryAfterHeaderHonoured(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{
		{status: 429, body: rateLimited, retryAfter: "2"},
		{status: 200, body: okText},
	}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	if _, err := g.Call(context.Background(), hello(), nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ft.calls() != 2 {
		t.Fatalf("calls = %d, want 2", ft.calls())
	}
	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want [2s]", sleeps)
	}
}

func TestCall_FallbackScheduleThenSuccess(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{
		{status: 429, body: rateLimited},
		{status: 429, body: rateLimited, retryAfter: "soon"},
		{status: 200, body: okText},
	}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	if _, err := g.Call(context.Background(), hello(), nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []time.Duration{30 * time.Second, 60 * time.Second}
	if len(sleeps) != len(want) || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
}

func TestCall_RateLimitExhausted(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 429, body: rateLimited}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	_, err := g.Call(context.Background(), hello(), nil)
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if ft.calls() != 4 {
		t.Fatalf("calls = %d, want 4 (1 + 3 retries)", ft.calls())
	}
	want := []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", sleeps, want)
		}
	}
}

func TestCallWithRetries_ZeroMeansSingleAttempt(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 429, body: rateLimited}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	_, err := g.CallWithRetries(context.Background(), hello(), nil, 0)
	if !errors.Is(err, gateway.ErrRateLimited) || ft.calls() != 1 || len(sleeps) != 0 {
		t.Fatalf("err=%v calls=%d sleeps=%v", err, ft.calls(), sleeps)
	}
}

func TestCall_ServerErrorNotRetried(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 500, body: serverError}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	_, err := g.Call(context.Background(), hello(), nil)
	if !errors.Is(err, gateway.ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if errors.Is(err, gateway.ErrRateLimited) {
		t.Fatal("500 must not be reported as rate limited")
	}
	if ft.calls() != 1 || len(sleeps) != 0 {
		t.Fatalf("calls=%d sleeps=%v, want a single attempt", ft.calls(), sleeps)
	}
}

func TestCall_SleepCancellationAborts(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 429, body: rateLimited}}}
	g, err := gateway.New(gateway.Options{
		APIKey:     "test-key",
		HTTPClient: &http.Client{Transport: ft},
		MaxRetries: 3,
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Call(context.Background(), hello(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if ft.calls() != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls())
	}
}

type sentRequest struct {
	System []struct {
		Text string `json:"text"`
	} `json:"system"`
	Tools []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		MaxUses int    `json:"max_uses"`
	} `json:"tools"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type      string          `json:"type"`
			Text      string          `json:"text"`
			ID        string          `json:"id"`
			Input     json.RawMessage `json:"input"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
		} `json:"content"`
	} `json:"messages"`
}

func decodeSent(t *testing.T, c capture) sentRequest {
	t.Helper()
	var rb sentRequest
	if err := json.Unmarshal(c.body, &rb); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, c.body)
	}
	return rb
}

func TestCall_RequestShape(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps, func(o *gateway.Options) { o.System = "You are helpful." })

	defs := []tools.ToolDefinition{tools.CalculatorDefinition}
	if _, err := g.Call(context.Background(), hello(), defs); err != nil {
		t.Fatalf("Call: %v", err)
	}

	c := ft.captured[0]
	if got := c.header.Get("anthropic-beta"); got != "web-search-2025-03-05" {
		t.Fatalf("anthropic-beta = %q", got)
	}
	if got := c.header.Get("anthropic-version"); got != provider.APIVersion {
		t.Fatalf("anthropic-version = %q, want %q", got, provider.APIVersion)
	}
	rb := decodeSent(t, c)
	if len(rb.System) != 1 || rb.System[0].Text != "You are helpful." {
		t.Fatalf("system = %+v", rb.System)
	}
	if len(rb.Tools) != 2 {
		t.Fatalf("tools = %+v, want web_search + calculator", rb.Tools)
	}
	if rb.Tools[0].Name != "web_search" || rb.Tools[0].MaxUses != 5 {
		t.Fatalf("first tool = %+v, want web_search with max_uses 5", rb.Tools[0])
	}
	if rb.Tools[1].Name != "calculator" {
		t.Fatalf("second tool = %+v", rb.Tools[1])
	}
}

func TestCall_ServerSideBlocksNotReplayed(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	history := []memory.Message{
		memory.NewUserMessage(memory.Text("news?")),
		memory.NewAssistantMessage(
			memory.Block{Type: memory.BlockServerToolUse, ID: "srv_1", Name: "web_search", Input: json.RawMessage(`{"query":"news"}`)},
			memory.Block{Type: memory.BlockWebSearchResult, ToolUseID: "srv_1"},
			memory.Text("Here is the news."),
		),
		memory.NewUserMessage(memory.Text("and 2+2?")),
		memory.NewAssistantMessage(memory.ToolUse("t1", "calculator", json.RawMessage(`{"expr":"2+2"}`))),
		memory.NewUserMessage(memory.ToolResult("t1", "4", false)),
	}
	if _, err := g.Call(context.Background(), history, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	rb := decodeSent(t, ft.captured[0])
	if len(rb.Messages) != 5 {
		t.Fatalf("messages = %d, want 5", len(rb.Messages))
	}
	asst := rb.Messages[1].Content
	if len(asst) != 1 || asst[0].Type != "text" || asst[0].Text != "Here is the news." {
		t.Fatalf("server-side blocks leaked: %+v", asst)
	}
	tu := rb.Messages[3].Content[0]
	if tu.Type != "tool_use" || tu.ID != "t1" || string(tu.Input) != `{"expr":"2+2"}` {
		t.Fatalf("tool_use = %+v input=%s", tu, tu.Input)
	}
	if tr := rb.Messages[4].Content[0]; tr.Type != "tool_result" || tr.ToolUseID != "t1" {
		t.Fatalf("tool_result = %+v", tr)
	}
}

func TestCall_CurrentTurnReplaysSearchResults(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	payload := json.RawMessage(`[{"type":"web_search_result","url":"https://example.com","title":"News","encrypted_content":"enc","page_age":"1 day"}]`)
	history := []memory.Message{
		memory.NewUserMessage(memory.Text("news, then 2+2?")),
		memory.NewAssistantMessage(
			memory.Block{Type: memory.BlockServerToolUse, ID: "srv_1", Name: "web_search", Input: json.RawMessage(`{"query":"news"}`)},
			memory.Block{Type: memory.BlockWebSearchResult, ToolUseID: "srv_1", Payload: payload},
			memory.ToolUse("t1", "calculator", json.RawMessage(`{"expr":"2+2"}`)),
		),
		memory.NewUserMessage(memory.ToolResult("t1", "4", false)),
	}
	if _, err := g.Call(context.Background(), history, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	rb := decodeSent(t, ft.captured[0])
	if len(rb.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(rb.Messages))
	}
	asst := rb.Messages[1].Content
	if len(asst) != 3 {
		t.Fatalf("assistant blocks = %+v, want server_tool_use, web_search_tool_result, tool_use", asst)
	}
	if asst[0].Type != "server_tool_use" || asst[0].ID != "srv_1" || string(asst[0].Input) != `{"query":"news"}` {
		t.Fatalf("server_tool_use = %+v input=%s", asst[0], asst[0].Input)
	}
	if asst[1].Type != "web_search_tool_result" || asst[1].ToolUseID != "srv_1" {
		t.Fatalf("web_search_tool_result = %+v", asst[1])
	}
	var results []struct {
		Type             string `json:"type"`
		URL              string `json:"url"`
		Title            string `json:"title"`
		EncryptedContent string `json:"encrypted_content"`
		PageAge          string `json:"page_age"`
	}
	if err := json.Unmarshal(asst[1].Content, &results); err != nil {
		t.Fatalf("result content %s: %v", asst[1].Content, err)
	}
	if len(results) != 1 || results[0].Type != "web_search_result" || results[0].URL != "https://example.com" ||
		results[0].EncryptedContent != "enc" || results[0].PageAge != "1 day" {
		t.Fatalf("results = %+v", results)
	}
	if asst[2].Type != "tool_use" || asst[2].ID != "t1" {
		t.Fatalf("tool_use = %+v", asst[2])
	}
}

func TestCall_SearchErrorReplayed(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	history := []memory.Message{
		memory.NewUserMessage(memory.Text("news?")),
		memory.NewAssistantMessage(
			memory.Block{Type: memory.BlockServerToolUse, ID: "srv_1", Name: "web_search", Input: json.RawMessage(`{"query":"news"}`)},
			memory.Block{Type: memory.BlockWebSearchResult, ToolUseID: "srv_1", Payload: json.RawMessage(`{"type":"web_search_tool_result_error","error_code":"max_uses_exceeded"}`)},
			memory.ToolUse("t1", "calculator", json.RawMessage(`{"expr":"1"}`)),
		),
		memory.NewUserMessage(memory.ToolResult("t1", "1", false)),
	}
	if _, err := g.Call(context.Background(), history, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	rb := decodeSent(t, ft.captured[0])
	res := rb.Messages[1].Content[1]
	var e struct {
		Type      string `json:"type"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(res.Content, &e); err != nil || e.ErrorCode != "max_uses_exceeded" || e.Type != "web_search_tool_result_error" {
		t.Fatalf("error content = %s (%v)", res.Content, err)
	}
}

func TestCall_LeadingOrphansTrimmed(t *testing.T) {
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	history := []memory.Message{
		memory.NewUserMessage(memory.ToolResult("gone", "x", false)),
		memory.NewAssistantMessage(memory.Text("earlier reply")),
		memory.NewUserMessage(memory.Text("hello")),
	}
	if _, err := g.Call(context.Background(), history, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	rb := decodeSent(t, ft.captured[0])
	if len(rb.Messages) != 1 || rb.Messages[0].Content[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", rb.Messages)
	}
}

func TestCall_TokenBudget(t *testing.T) {
	t.Run("SendsNewestGroupsOnly", func(t *testing.T) {
		ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
		var sleeps []time.Duration
		g := newGateway(t, ft, &sleeps, func(o *gateway.Options) { o.TokenBudget = 10 })

		history := []memory.Message{
			memory.NewUserMessage(memory.Text("abc")),
			memory.NewUserMessage(memory.Text("defgh")),
		}
		if _, err := g.Call(context.Background(), history, nil); err != nil {
			t.Fatalf("Call: %v", err)
		}
		rb := decodeSent(t, ft.captured[0])
		if len(rb.Messages) != 1 || rb.Messages[0].Content[0].Text != "defgh" {
			t.Fatalf("unexpected window: %+v", rb.Messages)
		}
	})

	t.Run("OverBudgetNewestMakesNoCall", func(t *testing.T) {
		ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: okText}}}
		var sleeps []time.Duration
		g := newGateway(t, ft, &sleeps, func(o *gateway.Options) { o.TokenBudget = 1 })

		_, err := g.Call(context.Background(), hello(), nil)
		if !errors.Is(err, gateway.ErrOverBudget) {
			t.Fatalf("want ErrOverBudget, got %v", err)
		}
		if ft.calls() != 0 {
			t.Fatalf("expected no HTTP call, got %d", ft.calls())
		}
	})
}

func TestCall_ResponseBlocks(t *testing.T) {
	body := `{"id":"msg_2","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",
	"content":[
		{"type":"server_tool_use","id":"srv_1","name":"web_search","input":{"query":"weather"}},
		{"type":"web_search_tool_result","tool_use_id":"srv_1","content":[{"type":"web_search_result","url":"https://example.com","title":"Weather","encrypted_content":"enc"}]},
		{"type":"text","text":"Let me compute."},
		{"type":"tool_use","id":"t1","name":"calculator","input":{"expr":"2+2"}}
	],
	"stop_reason":"tool_use","usage":{"input_tokens":1,"output_tokens":1}}`
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: body}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	resp, err := g.Call(context.Background(), hello(), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StopReason != "tool_use" || len(resp.Content) != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	wantTypes := []memory.BlockType{memory.BlockServerToolUse, memory.BlockWebSearchResult, memory.BlockText, memory.BlockToolUse}
	for i, b := range resp.Content {
		if b.Type != wantTypes[i] {
			t.Fatalf("block %d type = %s, want %s", i, b.Type, wantTypes[i])
		}
	}
	tu := resp.Content[3]
	var in struct{ Expr string }
	if err := json.Unmarshal(tu.Input, &in); err != nil || in.Expr != "2+2" || tu.ID != "t1" || tu.Name != "calculator" {
		t.Fatalf("tool_use = %+v (%v)", tu, err)
	}
	if resp.Content[1].ToolUseID != "srv_1" {
		t.Fatalf("web_search_tool_result = %+v", resp.Content[1])
	}
	var results []struct{ URL string }
	if err := json.Unmarshal(resp.Content[1].Payload, &results); err != nil || len(results) != 1 || results[0].URL != "https://example.com" {
		t.Fatalf("payload = %s (%v)", resp.Content[1].Payload, err)
	}
}

func TestCall_UnsupportedResponseBlock(t *testing.T) {
	body := `{"id":"msg_3","type":"message","role":"assistant","model":"m",
	"content":[{"type":"thinking","thinking":"hmm","signature":"sig"}],
	"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	ft := &fakeTransport{responses: []cannedResponse{{status: 200, body: body}}}
	var sleeps []time.Duration
	g := newGateway(t, ft, &sleeps)

	if _, err := g.Call(context.Background(), hello(), nil); !errors.Is(err, memory.ErrUnknownBlock) {
		t.Fatalf("want ErrUnknownBlock, got %v", err)
	}
}
