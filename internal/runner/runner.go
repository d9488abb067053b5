package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/petasbytes/event-handler/internal/gateway"
	"github.com/petasbytes/event-handler/internal/metrics"
	"github.com/petasbytes/event-handler/internal/provider"
	"github.com/petasbytes/event-handler/internal/telemetry"
	"github.com/petasbytes/event-handler/memory"
	"github.com/petasbytes/event-handler/tools"
)

// Gateway sends a message list and returns the model's reply.
type Gateway interface {
	Call(ctx context.Context, msgs []memory.Message, defs []tools.ToolDefinition) (*gateway.Response, error)
}

type Runner struct {
	gw    Gateway
	defs  []tools.ToolDefinition
	execs tools.Executors
	log   *slog.Logger
	newID func() string
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithTurnIDs overrides turn ID generation.
func WithTurnIDs(f func() string) Option {
	return func(r *Runner) { r.newID = f }
}

// New returns a Runner advertising defs to the model and dispatching to execs.
// A nil execs is derived from the definitions' own functions.
func New(gw Gateway, defs []tools.ToolDefinition, execs tools.Executors, opts ...Option) *Runner {
	if execs == nil {
		execs = tools.ExecutorsOf(defs)
	}
	r := &Runner{gw: gw, defs: defs, execs: execs, newID: uuid.NewString}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "runner")
	return r
}

// Result is the outcome of a completed turn.
type Result struct {
	Text    string           // text of the final assistant message
	History []memory.Message // prior history plus every message of this turn
	Rounds  int              // model calls made
}

// TurnError is returned when a model call fails mid-turn. History holds the
// messages accumulated up to the failure.
type TurnError struct {
	History []memory.Message
	Err     error
}

func (e *TurnError) Error() string { return "turn failed: " + e.Err.Error() }

func (e *TurnError) Unwrap() error { return e.Err }

// Chat appends userMessage to history and runs the tool loop until the model
// stops for a reason other than tool_use, or requests no client-side tool.
// history is not modified.
func (r *Runner) Chat(ctx context.Context, userMessage string, history []memory.Message) (*Result, error) {
	turnID, ok := telemetry.TurnIDFromContext(ctx)
	if !ok {
		turnID = r.newID()
		ctx = telemetry.WithTurnID(ctx, turnID)
	}
	log := r.log.With("turn_id", turnID)

	msgs := append(memory.CloneMessages(history), memory.NewUserMessage(memory.Text(userMessage)))
	start := len(history)

	for round := 1; ; round++ {
		resp, err := r.gw.Call(ctx, msgs, r.defs)
		if err != nil {
			log.Error("model call failed", "round", round, "error", err)
			return nil, &TurnError{History: msgs, Err: err}
		}
		reply := resp.Message()
		msgs = append(msgs, reply)

		// Only a tool_use stop asks for results; any tool_use left in a
		// max_tokens or end_turn reply is not executed.
		var results []memory.Block
		if resp.StopReason == anthropic.StopReasonToolUse {
			results = r.dispatch(ctx, reply)
		}
		if len(results) == 0 {
			text := reply.JoinedText()
			log.Debug("turn complete", "rounds", round, "stop_reason", string(resp.StopReason))
			telemetry.EmitTurnStats(ctx, round, metrics.Turn(msgs[start:], text))
			return &Result{Text: text, History: msgs, Rounds: round}, nil
		}
		msgs = append(msgs, memory.NewUserMessage(results...))
	}
}

// dispatch runs each client-side tool_use in reply, in block order.
func (r *Runner) dispatch(ctx context.Context, reply memory.Message) []memory.Block {
	var results []memory.Block
	for _, b := range reply.ToolUses() {
		if b.Name == provider.WebSearchToolName {
			continue
		}
		results = append(results, r.execTool(ctx, b))
	}
	return results
}

func (r *Runner) execTool(ctx context.Context, use memory.Block) memory.Block {
	turnID, _ := telemetry.TurnIDFromContext(ctx)

	// Sizes only; raw payloads never reach telemetry.
	emit := func(start time.Time, outputSize int, errStr string) {
		fields := map[string]any{
			"tool_name":   use.Name,
			"duration_ms": time.Since(start).Milliseconds(),
			"input_size":  len(use.Input),
			"output_size": outputSize,
			"turn_id":     turnID,
			"error":       nil,
		}
		if errStr != "" {
			fields["error"] = errStr
		}
		telemetry.Emit("tool_exec", fields)
	}

	start := time.Now()
	fn, ok := r.execs[use.Name]
	if !ok {
		emit(start, 0, "tool not found")
		r.log.Warn("unknown tool requested", "tool", use.Name, "turn_id", turnID)
		return memory.ToolResult(use.ID, errorContent("Unknown tool: "+use.Name), true)
	}

	out, err := invoke(ctx, fn, use.Input)
	if err != nil {
		emit(start, 0, "tool error")
		r.log.Warn("tool failed", "tool", use.Name, "turn_id", turnID, "error", err)
		return memory.ToolResult(use.ID, errorContent(err.Error()), true)
	}
	b, err := json.Marshal(out)
	if err != nil {
		emit(start, 0, "tool error")
		return memory.ToolResult(use.ID, errorContent("encode result: "+err.Error()), true)
	}
	emit(start, len(b), "")
	return memory.ToolResult(use.ID, string(b), false)
}

// invoke calls fn, converting a panic into an error.
func invoke(ctx context.Context, fn tools.Executor, input json.RawMessage) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return fn(ctx, input)
}

func errorContent(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
