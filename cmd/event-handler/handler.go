package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petasbytes/event-handler/internal/runner"
	"github.com/petasbytes/event-handler/internal/telemetry"
	"github.com/petasbytes/event-handler/memory"
)

// handler serves one incoming chat message end to end: load history, run the
// turn, write the result back.
type handler struct {
	store  *memory.Store
	runner *runner.Runner
	log    *slog.Logger
}

func (h *handler) Handle(ctx context.Context, key, text string) (string, error) {
	ctx = telemetry.WithConversationKey(ctx, key)
	history := h.store.GetHistory(key)

	res, err := h.runner.Chat(ctx, text, history)
	if err != nil {
		var te *runner.TurnError
		if errors.As(err, &te) {
			h.log.Warn("turn aborted, history not saved", "key", key, "messages", len(te.History))
		}
		return "", err
	}
	h.store.UpdateHistory(key, res.History)
	return res.Text, nil
}

func (h *handler) Clear(key string) {
	h.store.ClearHistory(key)
}
