package provider

import (
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultModel = anthropic.Model("claude-sonnet-4-20250514")
// APIVersion is sent as the anthropic-version header on every request.
const APIVersion = "2023-06-01"

// WebSearchToolName is the provider-executed search tool. Blocks naming it are
// never dispatched to local executors.
const WebSearchToolName = "web_search"

// WebSearchBeta is sent on every request so web search is enabled.
const WebSearchBeta = "web-search-2025-03-05"

// ClientOptions tune the Anthropic client. Zero values use SDK defaults.
type ClientOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewAnthropicClient returns a client for the given API key. SDK-level retries
// are disabled; rate-limit handling lives in the gateway.
func NewAnthropicClient(o ClientOptions) *anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithMaxRetries(0),
		option.WithHeader("anthropic-version", APIVersion),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	c := anthropic.NewClient(opts...)
	return &c
}
