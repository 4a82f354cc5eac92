package turtle

import "context"

// Provider is the uniform LLM backend contract, spec.md §4.F. Five concrete
// adapters (Gemini, OpenAI, Anthropic, OpenRouter, xAI Grok) implement this
// over otherwise-incompatible wire protocols.
type Provider interface {
	// Chat sends a request (optionally carrying tool definitions via
	// req.Tools) and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (LLMResponse, error)
	// Stream sends a request and yields text chunks on ch as they arrive,
	// then returns the final assembled response with usage stats. ch is
	// never closed by the callee; the caller ranges until Stream returns.
	Stream(ctx context.Context, req ChatRequest, ch chan<- string) (LLMResponse, error)
	// Name returns the provider name ("gemini", "openai", "anthropic",
	// "openrouter", "xai").
	Name() string
}
