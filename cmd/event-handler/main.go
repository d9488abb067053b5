package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/petasbytes/event-handler/internal/config"
	"github.com/petasbytes/event-handler/internal/fsops"
	"github.com/petasbytes/event-handler/internal/gateway"
	"github.com/petasbytes/event-handler/internal/logging"
	"github.com/petasbytes/event-handler/internal/runner"
	"github.com/petasbytes/event-handler/internal/telemetry"
	"github.com/petasbytes/event-handler/memory"
	"github.com/petasbytes/event-handler/tools"
)

func main() {
	chatKey := flag.String("chat", "local", "conversation key to read and write")
	flag.Parse()

	if err := run(*chatKey); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(chatKey string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closer, err := logging.Init(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		logger.Warn("log file unavailable, logging to stderr", "error", err)
	}
	defer closer.Close()
	if cfg.ObserveJSON {
		telemetry.SetObserve(true)
	}

	system, err := cfg.SystemPrompt()
	if err != nil {
		return err
	}
	gw, err := gateway.New(gateway.Options{
		APIKey:      cfg.APIKey,
		Model:       anthropic.Model(cfg.Model),
		MaxTokens:   cfg.MaxTokens,
		System:      system,
		MaxRetries:  cfg.MaxRetries,
		TokenBudget: cfg.TokenBudget,
		Logger:      logger,
	})
	if errors.Is(err, gateway.ErrMissingAPIKey) {
		return fmt.Errorf("%w; export it before running", err)
	}
	if err != nil {
		return err
	}

	var docs *fsops.Reader
	if cfg.DocsRoot != "" {
		if docs, err = fsops.NewReader(cfg.DocsRoot); err != nil {
			return fmt.Errorf("docs root: %w", err)
		}
	}
	defs := tools.Registry(docs)

	store := memory.NewStore(memory.Options{
		Path:            cfg.StorePath,
		TTL:             cfg.TTL,
		MaxMessages:     cfg.MaxMessages,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logger,
	})
	store.Init()

	// Set up graceful shutdown on Ctrl-C (SIGINT) / SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store.Start(ctx)
	defer store.Stop()

	h := &handler{
		store:  store,
		runner: runner.New(gw, defs, tools.ExecutorsOf(defs), runner.WithLogger(logger)),
		log:    logger,
	}
	return repl(ctx, h, chatKey, os.Stdin, os.Stdout, logger)
}

// repl reads one message per line until EOF or ctx is done. "/clear" drops the
// conversation.
func repl(ctx context.Context, h *handler, key string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	inputCh := make(chan string)
	go func() {
		defer close(inputCh)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(out, "Chatting as %q (Ctrl-C to quit, /clear to reset)\n", key)
	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nExiting...")
			return nil
		case l, ok := <-inputCh:
			if !ok {
				return scanner.Err()
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/clear":
			h.Clear(key)
			fmt.Fprintln(out, "(conversation cleared)")
			continue
		}

		reply, err := h.Handle(ctx, key, line)
		if err != nil {
			logger.Error("turn failed", "key", key, "error", err)
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}
