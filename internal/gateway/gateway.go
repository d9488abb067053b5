package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/petasbytes/event-handler/internal/provider"
	"github.com/petasbytes/event-handler/internal/telemetry"
	"github.com/petasbytes/event-handler/internal/windowing"
	"github.com/petasbytes/event-handler/memory"
	"github.com/petasbytes/event-handler/tools"
)

var (
	// ErrMissingAPIKey is a configuration error and is never retried.
	ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY environment variable is required")
	// ErrRateLimited is returned once rate-limit retries are exhausted.
	ErrRateLimited = errors.New("claude api rate limited")
	// ErrUpstream wraps any other non-success response or transport failure.
	ErrUpstream = errors.New("claude api error")
	// ErrOverBudget means the newest message group alone exceeds the token budget.
	ErrOverBudget = errors.New("newest message group exceeds token budget")
)

const (
	DefaultMaxTokens  = 4096
	DefaultMaxRetries = 3
	webSearchMaxUses  = 5
	fallbackStep      = 30 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	APIKey      string
	Model       anthropic.Model
	MaxTokens   int64
	System      string
	MaxRetries  int
	TokenBudget int // 0 disables budget windowing
	HTTPClient  *http.Client
	BaseURL     string
	Sleep       SleepFunc
	Logger      *slog.Logger
}

// Response is the structured result of one successful model call.
type Response struct {
	StopReason   anthropic.StopReason
	Content      []memory.Block
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Message returns the response as an assistant message.
func (r *Response) Message() memory.Message {
	return memory.NewAssistantMessage(r.Content...)
}

type Gateway struct {
	client      *anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	system      string
	maxRetries  int
	tokenBudget int
	sleep       SleepFunc
	log         *slog.Logger
}

// New validates the credential and builds a gateway. A blank API key fails
// with ErrMissingAPIKey.
func New(o Options) (*Gateway, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	g := &Gateway{
		client: provider.NewAnthropicClient(provider.ClientOptions{
			APIKey:     o.APIKey,
			BaseURL:    o.BaseURL,
			HTTPClient: o.HTTPClient,
		}),
		model:       o.Model,
		maxTokens:   o.MaxTokens,
		system:      o.System,
		maxRetries:  max(o.MaxRetries, 0),
		tokenBudget: o.TokenBudget,
		sleep:       o.Sleep,
		log:         o.Logger,
	}
	if g.model == "" {
		g.model = provider.DefaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.sleep == nil {
		g.sleep = sleepCtx
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = g.log.With("component", "gateway")
	return g, nil
}

// Call sends msgs with the configured retry budget.
func (g *Gateway) Call(ctx context.Context, msgs []memory.Message, defs []tools.ToolDefinition) (*Response, error) {
	return g.CallWithRetries(ctx, msgs, defs, g.maxRetries)
}

// CallWithRetries sends msgs plus defs (and the web_search server tool) to the
// Messages API. A 429 is retried up to retries times, waiting for the
// server-provided retry-after seconds or 30s, 60s, 90s, ... otherwise. Any other
// failure is returned immediately.
func (g *Gateway) CallWithRetries(ctx context.Context, msgs []memory.Message, defs []tools.ToolDefinition, retries int) (*Response, error) {
	if g == nil || g.client == nil {
		return nil, ErrMissingAPIKey
	}
	params, err := g.buildParams(ctx, msgs, defs)
	if err != nil {
		return nil, err
	}
	turnID, _ := telemetry.TurnIDFromContext(ctx)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		msg, err := g.client.Messages.New(ctx, params, option.WithHeader("anthropic-beta", provider.WebSearchBeta))
		if err == nil {
			telemetry.Emit("model_call", map[string]any{
				"turn_id":       turnID,
				"model":         string(g.model),
				"attempt":       attempt,
				"duration_ms":   time.Since(start).Milliseconds(),
				"stop_reason":   string(msg.StopReason),
				"input_tokens":  msg.Usage.InputTokens,
				"output_tokens": msg.Usage.OutputTokens,
			})
			return fromMessage(msg)
		}

		var apiErr *anthropic.Error
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		if apiErr.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %d: %w", ErrUpstream, apiErr.StatusCode, err)
		}
		if attempt >= retries {
			return nil, fmt.Errorf("%w after %d retries: %w", ErrRateLimited, attempt, err)
		}

		wait := retryWait(apiErr.Response, attempt)
		g.log.Warn("rate limited, waiting before retry",
			"wait", wait.String(), "retries_left", retries-attempt, "turn_id", turnID)
		telemetry.Emit("rate_limited", map[string]any{
			"turn_id":      turnID,
			"wait_ms":      wait.Milliseconds(),
			"retries_left": retries - attempt,
		})
		if err := g.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (g *Gateway) buildParams(ctx context.Context, msgs []memory.Message, defs []tools.ToolDefinition) (anthropic.MessageNewParams, error) {
	// Server-side search blocks are replayed within the current turn so a
	// later round sees its results. Older turns drop them.
	cut := windowing.TurnStart(msgs)
	older := windowing.StripBlocks(msgs[:cut], isServerSide)
	current := windowing.StripBlocks(msgs[cut:], isWebSearchToolUse)
	window := windowing.TrimLeadingOrphans(append(older, current...))
	if g.tokenBudget > 0 {
		var stats windowing.Stats
		window, stats = windowing.PrepareSendWindow(window, g.tokenBudget, windowing.HeuristicCounter{})
		turnID, _ := telemetry.TurnIDFromContext(ctx)
		telemetry.Emit("window_prepared", map[string]any{
			"turn_id":            turnID,
			"budget":             stats.Budget,
			"total_estimated":    stats.Total,
			"included_groups":    stats.IncludedGroups,
			"skipped_groups":     stats.SkippedGroups,
			"over_budget_newest": stats.OverBudgetNewest,
		})
		if stats.OverBudgetNewest {
			return anthropic.MessageNewParams{}, fmt.Errorf("%w (budget %d)", ErrOverBudget, g.tokenBudget)
		}
		// The window may now open on a tool_result whose tool_use was cut.
		window = windowing.TrimLeadingOrphans(window)
	}

	converted, err := toParams(window)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages:  converted,
		Tools:     toolParams(defs),
	}
	if g.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.system}}
	}
	return params, nil
}

// isServerSide marks blocks not replayed from older turns: provider tool
// output, and tool_use blocks naming the server-side search tool.
func isServerSide(b memory.Block) bool {
	return b.IsServerSide() || isWebSearchToolUse(b)
}

// isWebSearchToolUse marks a client tool_use naming the server-side search
// tool. It never has a matching tool_result, so it is never replayed.
func isWebSearchToolUse(b memory.Block) bool {
	return b.Type == memory.BlockToolUse && b.Name == provider.WebSearchToolName
}

// retryWait returns the server's retry-after (whole seconds) when present and
// valid, else the fallback schedule (attempt+1)*30s.
func retryWait(resp *http.Response, attempt int) time.Duration {
	if resp != nil {
		if v := strings.TrimSpace(resp.Header.Get("retry-after")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Duration(attempt+1) * fallbackStep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
