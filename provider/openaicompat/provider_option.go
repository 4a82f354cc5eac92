package openaicompat

import "net/http"

// ProviderOption configures a Provider instance.
type ProviderOption func(*Provider)

// WithName sets the provider name returned by Name() (default "openai").
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithOptions appends request-level options (temperature, max tokens, etc.)
// applied to every request made by this provider, before per-request values
// from ChatRequest are layered on top.
func WithOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}
