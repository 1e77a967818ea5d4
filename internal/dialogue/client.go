// Package dialogue turns one recognised utterance into one assistant reply.
//
// A [Client] is stateless between calls: every Complete sends the system
// prompt and the user text and nothing else. Calls are never retried. A
// circuit breaker sits in front of the provider so that a dead network
// fails fast after a few consecutive failures.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/resilience"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// PromptStyle selects how the system prompt reaches the model.
type PromptStyle int

const (
	// PromptSystemField sends the prompt in the request's system field.
	PromptSystemField PromptStyle = iota

	// PromptInline sends a single user message of the form
	// "<system>\n\nユーザー: <text>".
	PromptInline
)

// String returns the config spelling of the style.
func (s PromptStyle) String() string {
	switch s {
	case PromptSystemField:
		return "system"
	case PromptInline:
		return "inline"
	default:
		return "unknown"
	}
}

// ParsePromptStyle accepts "system", "inline" or "" (system).
func ParsePromptStyle(s string) (PromptStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system":
		return PromptSystemField, nil
	case "inline":
		return PromptInline, nil
	default:
		return 0, fmt.Errorf("dialogue: unknown prompt style %q", s)
	}
}

// inlineUserLabel separates the system prompt from the user text in
// PromptInline mode.
const inlineUserLabel = "\n\nユーザー: "

// Client wraps an [llm.Provider]. It is safe for concurrent use.
type Client struct {
	provider     llm.Provider
	providerName string
	style        PromptStyle
	temperature  float64
	maxTokens    int
	breaker      *resilience.CircuitBreaker
	metrics      *observe.Metrics
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithPromptStyle selects how the system prompt is sent.
func WithPromptStyle(s PromptStyle) Option {
	return func(c *Client) { c.style = s }
}

// WithProviderName sets the label used in errors, logs and metrics.
func WithProviderName(name string) Option {
	return func(c *Client) { c.providerName = name }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the reply length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithBreaker replaces the default breaker (5 failures, 30 s).
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithMetrics records latency and outcome of every call.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a Client for p.
func New(p llm.Provider, opts ...Option) *Client {
	c := &Client{provider: p, providerName: "llm"}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "dialogue"})
	}
	return c
}

// Complete asks the model for a reply to userText under systemPrompt. The
// returned reply is trimmed and may be empty. Provider failures, including
// [resilience.ErrCircuitOpen], are returned as *[DialogueError].
func (c *Client) Complete(ctx context.Context, userText, systemPrompt string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", ErrEmptyInput
	}
	req := c.request(userText, systemPrompt)

	start := time.Now()
	var resp *llm.CompletionResponse
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.provider.Complete(ctx, req)
		return err
	})
	if c.metrics != nil {
		observe.Since(ctx, c.metrics.LLMDuration, start)
		c.metrics.RecordProvider(ctx, c.providerName, "llm", err)
	}
	if err != nil {
		return "", &DialogueError{Provider: c.providerName, Err: err}
	}
	if resp == nil {
		return "", nil
	}
	observe.Logger(ctx).Debug("dialogue: reply received",
		"provider", c.providerName,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish", resp.FinishReason)
	switch {
	case resp.FinishReason == llm.FinishFiltered:
		observe.Logger(ctx).Warn("dialogue: reply withheld by provider filter", "provider", c.providerName)
	case resp.Truncated():
		observe.Logger(ctx).Info("dialogue: reply cut at token limit", "provider", c.providerName, "max_tokens", c.maxTokens)
	}
	return strings.TrimSpace(resp.Content), nil
}

// BreakerState reports the circuit breaker's current state.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

func (c *Client) request(userText, systemPrompt string) llm.CompletionRequest {
	req := llm.CompletionRequest{
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	switch {
	case c.style == PromptInline && systemPrompt != "":
		req.Messages = []llm.Message{{Role: llm.RoleUser, Content: systemPrompt + inlineUserLabel + userText}}
	default:
		req.SystemPrompt = systemPrompt
		req.Messages = []llm.Message{{Role: llm.RoleUser, Content: userText}}
	}
	return req
}
