// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
//
// One [Provider] type covers every backend any-llm-go ships: the hosted
// APIs (Gemini, Anthropic, DeepSeek, Mistral, Groq, OpenAI) and the local
// servers (Ollama, llama.cpp, llamafile). Gemini is the default backend of
// the conversation loop.
//
//	p, err := anyllm.New("gemini", "", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// DefaultGeminiModel is used for the gemini backend when no model is given.
const DefaultGeminiModel = "gemini-1.5-flash"

// ErrUnsupportedBackend is returned by [New] for names not in [Backends].
var ErrUnsupportedBackend = errors.New("anyllm: unsupported backend")

type backendFactory func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

var backends = map[string]backendFactory{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// defaultModels fills in an empty model for backends that have an obvious
// choice. The others require an explicit model.
var defaultModels = map[string]string{
	"gemini": DefaultGeminiModel,
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider on top of one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend. An empty model selects the
// backend default where one exists. opts are passed to the backend
// unchanged (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL, ...). Without an
// API key option the backend falls back to its own environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	factory, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnsupportedBackend, backend, strings.Join(Backends(), ", "))
	}
	if model == "" {
		model = defaultModels[name]
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model must not be empty", name)
	}

	b, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Model returns the model name requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider. A reply withheld by a safety filter
// comes back with empty Content and FinishReason [llm.FinishFiltered]; a
// response without any candidate is [llm.ErrNoChoices].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrNoChoices)
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: llm.NormalizeFinish(string(choice.FinishReason)),
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// buildParams maps a CompletionRequest onto any-llm-go params. The system
// prompt becomes a leading system-role message; any-llm-go moves it into
// the backend's dedicated field (Gemini's system_instruction, for one).
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	return params
}
