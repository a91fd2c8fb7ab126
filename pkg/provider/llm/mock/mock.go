// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "YES"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete when Err is nil.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned by Complete.
	Err error

	// Delay makes Complete wait before answering, honouring ctx.
	Delay time.Duration

	// Calls records every call to Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns Response, Err.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, CompleteCall{Req: req})
	resp, err, delay := p.Response, p.Err, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}
	return resp, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Set replaces the canned response and error. Thread-safe.
func (p *Provider) Set(resp *llm.CompletionResponse, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Response, p.Err = resp, err
}
