// Package resolve builds a concrete turtle.Provider from configuration,
// spec.md §4.F: model name and default provider resolve to one of five
// wire-incompatible backends behind the uniform Provider contract.
package resolve

import (
	"fmt"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/config"
	"github.com/sea-turtle/sea-turtle/internal/registry"
	"github.com/sea-turtle/sea-turtle/provider/anthropic"
	"github.com/sea-turtle/sea-turtle/provider/gemini"
	"github.com/sea-turtle/sea-turtle/provider/openaicompat"
)

const (
	openaiBaseURL     = "https://api.openai.com/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
)

// Registry caches one Provider instance per backend name so repeated calls
// to models served by the same provider reuse the same HTTP client.
type Registry struct {
	cfg       config.Config
	providers map[string]turtle.Provider
}

// NewRegistry builds an empty provider cache over cfg.
func NewRegistry(cfg config.Config) *Registry {
	return &Registry{cfg: cfg, providers: make(map[string]turtle.Provider)}
}

// ForModel resolves a model name to its backend provider, constructing and
// caching the adapter on first use.
func (r *Registry) ForModel(model string) (turtle.Provider, error) {
	name := registry.ResolveProvider(model, r.cfg.LLM.DefaultProvider)
	return r.ForProvider(name)
}

// ForProvider returns the cached provider for name, constructing it on first use.
func (r *Registry) ForProvider(name string) (turtle.Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	pc, ok := r.cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("resolve: no configuration for provider %q", name)
	}

	p, err := newProvider(name, pc.APIKey())
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}

// newProvider constructs the backend adapter for name and wraps it with
// turtle.WithRetry so transient 429/503 responses from any of the five
// backends get the same exponential-backoff treatment.
func newProvider(name, apiKey string) (turtle.Provider, error) {
	var p turtle.Provider
	switch name {
	case "google":
		p = gemini.New(apiKey)
	case "openai":
		p = openaicompat.NewProvider(apiKey, openaiBaseURL, openaicompat.WithName("openai"))
	case "anthropic":
		p = anthropic.New(apiKey, "")
	case "openrouter":
		p = openaicompat.NewProvider(apiKey, openrouterBaseURL, openaicompat.WithName("openrouter"))
	case "xai":
		p = openaicompat.NewProvider(apiKey, xaiBaseURL, openaicompat.WithName("xai"))
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", name)
	}
	return turtle.WithRetry(p), nil
}
