// Package llm defines the Provider interface for completion backends.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, a local
// Ollama instance, ...) and exposes a single request/response call so the
// dialogue layer never couples to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text body.
	Content string
}

// Normalised finish reasons. Backends report their own vocabulary; see
// [NormalizeFinish].
const (
	FinishStop     = "stop"
	FinishLength   = "length"
	FinishFiltered = "filtered"
)

// ErrNoChoices is returned when the backend answered without a single
// candidate, typically because a safety filter blocked the whole reply.
var ErrNoChoices = errors.New("llm: response has no choices")

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is normally from
	// the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction placed before Messages.
	// Providers without a dedicated system field send it as a system-role
	// message.
	SystemPrompt string

	// Temperature controls output randomness. Zero leaves the provider
	// default in place.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full reply to a CompletionRequest.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// FinishReason is one of the Finish* constants, or the backend's raw
	// value lower-cased when it has no normalised equivalent. Empty when the
	// backend does not report one.
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Truncated reports whether the reply was cut short by the token limit.
func (r *CompletionResponse) Truncated() bool { return r.FinishReason == FinishLength }

// NormalizeFinish maps the finish reasons of the supported backends onto
// the Finish* constants.
func NormalizeFinish(raw string) string {
	switch r := strings.ToLower(strings.TrimSpace(raw)); r {
	case "stop", "end_turn", "stop_sequence", "eos":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "content_filter", "safety", "recitation", "blocklist", "prohibited_content", "refusal":
		return FinishFiltered
	default:
		return r
	}
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
