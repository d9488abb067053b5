// Package config reads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/petasbytes/event-handler/internal/gateway"
	"github.com/petasbytes/event-handler/internal/provider"
	"github.com/petasbytes/event-handler/memory"
)

type Config struct {
	APIKey           string
	Model            string
	MaxTokens        int64
	SystemPromptFile string
	MaxRetries       int
	TokenBudget      int

	StorePath       string
	TTL             time.Duration
	MaxMessages     int
	CleanupInterval time.Duration

	DocsRoot string

	LogLevel  string
	LogFormat string
	LogFile   string

	ObserveJSON bool
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// envParser accumulates parse failures so Load can report them together.
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid non-negative integer %q", key, v))
		return def
	}
	return n
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid positive duration %q", key, v))
		return def
	}
	return d
}

// Load reads all EVENT_HANDLER_* variables (and ANTHROPIC_API_KEY). A missing
// API key is not an error here; the gateway reports it.
func Load() (Config, error) {
	var p envParser
	cfg := Config{
		APIKey:           getEnv("ANTHROPIC_API_KEY", ""),
		Model:            getEnv("EVENT_HANDLER_MODEL", string(provider.DefaultModel)),
		MaxTokens:        int64(p.int("EVENT_HANDLER_MAX_TOKENS", gateway.DefaultMaxTokens)),
		SystemPromptFile: getEnv("EVENT_HANDLER_SYSTEM_PROMPT_FILE", ""),
		MaxRetries:       p.int("EVENT_HANDLER_MAX_RETRIES", gateway.DefaultMaxRetries),
		TokenBudget:      p.int("EVENT_HANDLER_TOKEN_BUDGET", 0),

		StorePath:       getEnv("EVENT_HANDLER_STORE_PATH", memory.DefaultPath),
		TTL:             p.duration("EVENT_HANDLER_TTL", memory.DefaultTTL),
		MaxMessages:     p.int("EVENT_HANDLER_MAX_MESSAGES", memory.DefaultMaxMessages),
		CleanupInterval: p.duration("EVENT_HANDLER_CLEANUP_INTERVAL", memory.DefaultCleanupInterval),

		DocsRoot: getEnv("EVENT_HANDLER_DOCS_ROOT", ""),

		LogLevel:  getEnv("EVENT_HANDLER_LOG_LEVEL", "info"),
		LogFormat: getEnv("EVENT_HANDLER_LOG_FORMAT", "json"),
		LogFile:   getEnv("EVENT_HANDLER_LOG_FILE", ""),

		ObserveJSON: getBoolEnv("EVENT_HANDLER_OBSERVE_JSON", false),
	}
	if cfg.MaxMessages == 0 {
		p.errs = append(p.errs, errors.New("EVENT_HANDLER_MAX_MESSAGES: must be at least 1"))
		cfg.MaxMessages = memory.DefaultMaxMessages
	}
	if cfg.MaxTokens == 0 {
		p.errs = append(p.errs, errors.New("EVENT_HANDLER_MAX_TOKENS: must be at least 1"))
		cfg.MaxTokens = gateway.DefaultMaxTokens
	}
	return cfg, errors.Join(p.errs...)
}

// SystemPrompt returns the contents of SystemPromptFile verbatim, or "" when unset.
func (c Config) SystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(b), nil
}
