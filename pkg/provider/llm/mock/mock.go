// Package mock provides a scripted [llm.Provider] for tests.
//
// A Provider answers from Replies in order, one entry per Complete call,
// and falls back to CompleteResponse and CompleteErr once the script runs
// out. Every request is recorded so tests can assert on the system prompt
// and parameters the dialogue layer sent.
//
//	p := &mock.Provider{Replies: []mock.Reply{
//	    {Content: "はい"},
//	    {Err: errors.New("503")},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// Reply is one scripted answer. A non-nil Err wins over Content.
type Reply struct {
	Content      string
	FinishReason string
	Err          error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a scripted llm.Provider. Configure it before the first call.
type Provider struct {
	mu sync.Mutex

	// Replies are consumed one per call.
	Replies []Reply

	// CompleteResponse and CompleteErr answer every call after Replies is
	// exhausted. Both nil yields nil, nil.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc, if set, answers every call instead of the script. It
	// runs without the mock's lock held.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn == nil && len(p.Replies) > 0 {
		r := p.Replies[0]
		p.Replies = p.Replies[1:]
		p.mu.Unlock()
		if r.Err != nil {
			return nil, r.Err
		}
		return &llm.CompletionResponse{Content: r.Content, FinishReason: r.FinishReason}, nil
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CallCount returns the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

// LastRequest returns the most recent request, or the zero value before
// the first call.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req
}
