// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"fmt"
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

	"github.com/ringline-ai/ringline/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
}

// Option is a functional option for Provider tuning parameters.
type Option func(*Provider)

// WithTemperature sets the sampling temperature. Zero leaves the backend
// default in place.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithMaxTokens caps the reply length in tokens. Zero leaves the backend
// default in place.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// backendOpts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (OPENAI_API_KEY and friends).
func New(providerName, model string, opts []Option, backendOpts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	p := &Provider{backend: backend, model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, opts []Option, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts, backendOpts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without backend options, it connects to http://localhost:11434.
func NewOllama(model string, opts []Option, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts, backendOpts...)
}

// NewLlamaCpp creates a Provider backed by a running llama.cpp server.
// Without backend options, it connects to http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts []Option, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts, backendOpts...)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: convertMessages(messages),
	}
	if p.temperature != 0 {
		t := p.temperature
		params.Temperature = &t
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// convertMessages converts llm messages to anyllm messages.
func convertMessages(messages []llm.Message) []anyllmlib.Message {
	out := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		switch m.Role {
		case llm.RoleSystem:
			role = anyllmlib.RoleSystem
		case llm.RoleUser:
			role = anyllmlib.RoleUser
		case llm.RoleAssistant:
			role = anyllmlib.RoleAssistant
		}
		out = append(out, anyllmlib.Message{
			Role:    role,
			Content: m.Content,
		})
	}
	return out
}
