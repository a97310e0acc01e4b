// Package mock provides an in-memory mock implementation of [llm.Provider]
// for use in unit tests.
//
// The mock records every call and allows the test to configure behavior via
// exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, is invoked for every Complete call and its
	// return values are used directly.
	CompleteFunc func(ctx context.Context, messages []llm.Message) (string, error)

	// Reply is returned by Complete when CompleteFunc is nil.
	Reply string

	// Err is the error returned by Complete when CompleteFunc is nil.
	Err error

	// Calls records the message history of all Complete invocations.
	Calls [][]llm.Message
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	p.Calls = append(p.Calls, snapshot)
	fn := p.CompleteFunc
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	return reply, err
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the message history of the most recent Complete call,
// or nil if Complete has not been called.
func (p *Provider) LastCall() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	return p.Calls[len(p.Calls)-1]
}
