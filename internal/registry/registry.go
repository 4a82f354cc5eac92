// Package registry is the model registry, spec.md §4.A: a static catalog
// mapping model name to provider, context window, and per-token pricing.
package registry

import (
	"fmt"
	"strings"
)

// ModelInfo describes one catalogued model.
type ModelInfo struct {
	Name               string
	Provider           string
	ContextWindow      int
	InputPricePerMil   float64
	OutputPricePerMil  float64
	Description        string
}

// Models is the static table, grounded on the reference registry's exact
// model list, prices and context windows.
var Models = []ModelInfo{
	{"gemini-2.5-pro", "google", 1_000_000, 1.25, 10.0, "Most capable reasoning model"},
	{"gemini-2.5-flash", "google", 1_000_000, 0.15, 0.60, "Best price-performance (default)"},
	{"gemini-2.0-flash", "google", 1_000_000, 0.10, 0.40, "Fast responses"},
	{"gemini-2.0-flash-lite", "google", 1_000_000, 0.075, 0.30, "Lowest cost"},
	{"gemini-1.5-pro", "google", 2_000_000, 1.25, 5.00, "Long context"},
	{"gemini-1.5-flash", "google", 1_000_000, 0.075, 0.30, "Lightweight fast"},

	{"gpt-4o", "openai", 128_000, 2.50, 10.00, "Flagship multimodal"},
	{"gpt-4o-mini", "openai", 128_000, 0.15, 0.60, "Small and fast"},
	{"gpt-4.1", "openai", 1_000_000, 2.00, 8.00, "Latest flagship"},
	{"gpt-4.1-mini", "openai", 1_000_000, 0.40, 1.60, "Balanced"},
	{"gpt-4.1-nano", "openai", 1_000_000, 0.10, 0.40, "Fastest and cheapest"},
	{"o3", "openai", 200_000, 10.00, 40.00, "Advanced reasoning"},
	{"o3-mini", "openai", 200_000, 1.10, 4.40, "Efficient reasoning"},
	{"o4-mini", "openai", 200_000, 1.10, 4.40, "Latest reasoning"},

	{"claude-sonnet-4-20250514", "anthropic", 200_000, 3.00, 15.00, "Latest Sonnet"},
	{"claude-3.5-sonnet-20241022", "anthropic", 200_000, 3.00, 15.00, "Sonnet 3.5"},
	{"claude-3.5-haiku-20241022", "anthropic", 200_000, 0.80, 4.00, "Fast and affordable"},

	{"grok-3", "xai", 131_072, 3.00, 15.00, "Flagship Grok"},
	{"grok-3-mini", "xai", 131_072, 0.30, 0.50, "Fast Grok"},
}

// SupportedProviders lists the five concrete adapters, spec.md §4.F.
var SupportedProviders = []string{"google", "openai", "anthropic", "openrouter", "xai"}

var byName = func() map[string]ModelInfo {
	m := make(map[string]ModelInfo, len(Models))
	for _, mi := range Models {
		m[mi.Name] = mi
	}
	return m
}()

// Lookup returns the descriptor for name, or false if not catalogued.
func Lookup(name string) (ModelInfo, bool) {
	mi, ok := byName[name]
	return mi, ok
}

// List returns descriptors, optionally filtered by provider ("" = all).
func List(provider string) []ModelInfo {
	if provider == "" {
		return Models
	}
	var out []ModelInfo
	for _, mi := range Models {
		if mi.Provider == provider {
			out = append(out, mi)
		}
	}
	return out
}

// Pricing returns (input, output) USD-per-million-token prices, or false if
// the model is unknown.
func Pricing(name string) (input, output float64, ok bool) {
	mi, found := byName[name]
	if !found {
		return 0, 0, false
	}
	return mi.InputPricePerMil, mi.OutputPricePerMil, true
}

// ResolveProvider determines the provider for a model name: table lookup
// first, then name-prefix heuristics, then the caller-supplied default.
func ResolveProvider(modelName, defaultProvider string) string {
	if mi, ok := byName[modelName]; ok {
		return mi.Provider
	}
	switch {
	case strings.HasPrefix(modelName, "gemini"):
		return "google"
	case strings.HasPrefix(modelName, "gpt"), strings.HasPrefix(modelName, "o3"), strings.HasPrefix(modelName, "o4"):
		return "openai"
	case strings.HasPrefix(modelName, "claude"):
		return "anthropic"
	case strings.HasPrefix(modelName, "grok"):
		return "xai"
	case strings.Contains(modelName, "/"):
		return "openrouter"
	}
	return defaultProvider
}

// FormatList renders models as a provider-grouped text table, for the
// /model list slash command.
func FormatList(models []ModelInfo) string {
	if len(models) == 0 {
		return "No models found."
	}
	var b strings.Builder
	current := ""
	for _, m := range models {
		if m.Provider != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "\U0001F4E6 %s\n", strings.ToUpper(m.Provider))
			fmt.Fprintf(&b, "%-35s %10s %12s %12s\n", "Model", "Context", "Input $/1M", "Output $/1M")
			b.WriteString(strings.Repeat("-", 72) + "\n")
			current = m.Provider
		}
		ctx := fmt.Sprintf("%dK", m.ContextWindow/1000)
		if m.ContextWindow >= 1_000_000 {
			ctx = fmt.Sprintf("%dM", m.ContextWindow/1_000_000)
		}
		fmt.Fprintf(&b, "%-35s %10s %12s %12s\n", m.Name, ctx,
			fmt.Sprintf("$%.3f", m.InputPricePerMil), fmt.Sprintf("$%.3f", m.OutputPricePerMil))
	}
	return strings.TrimRight(b.String(), "\n")
}
