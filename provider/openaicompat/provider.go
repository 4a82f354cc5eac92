package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	turtle "github.com/sea-turtle/sea-turtle"
)

// Provider implements turtle.Provider for any OpenAI-compatible chat
// completions API: OpenAI itself, OpenRouter, and xAI all speak this
// wire format with only the base URL and model catalog differing.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider. baseURL is the
// API base (e.g. "https://api.openai.com/v1"); "/chat/completions" is
// appended automatically.
func NewProvider(apiKey, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

func (p *Provider) requestOpts(req turtle.ChatRequest) []Option {
	opts := make([]Option, len(p.opts), len(p.opts)+3)
	copy(opts, p.opts)
	if req.Temperature != 0 {
		opts = append(opts, WithTemperature(req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, WithMaxTokens(req.MaxOutputTokens))
	}
	if req.ToolChoice != "" {
		opts = append(opts, WithToolChoice(req.ToolChoice))
	}
	return opts
}

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req turtle.ChatRequest) (turtle.LLMResponse, error) {
	body := BuildBody(req.Messages, req.Tools, req.Model, p.requestOpts(req)...)
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return turtle.LLMResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return turtle.LLMResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return turtle.LLMResponse{}, &turtle.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp)
}

// Stream streams text deltas into ch and returns the final accumulated
// response. The caller owns ch and must not close it from another writer.
func (p *Provider) Stream(ctx context.Context, req turtle.ChatRequest, ch chan<- string) (turtle.LLMResponse, error) {
	body := BuildBody(req.Messages, req.Tools, req.Model, p.requestOpts(req)...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return turtle.LLMResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return turtle.LLMResponse{}, p.httpErr(resp)
	}

	return StreamSSE(ctx, resp.Body, ch)
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &turtle.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &turtle.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &turtle.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: turtle.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ turtle.Provider = (*Provider)(nil)
