package gemini

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithTemperature sets the default sampling temperature (default 0.1),
// overridden per-request when ChatRequest.Temperature is non-zero.
func WithTemperature(t float64) Option {
	return func(g *Gemini) { g.temperature = t }
}

// WithTopP sets nucleus sampling top-p (default 0.9).
func WithTopP(p float64) Option {
	return func(g *Gemini) { g.topP = p }
}

// WithThinking enables or disables thinking mode (default false).
func WithThinking(enabled bool) Option {
	return func(g *Gemini) { g.thinkingEnabled = enabled }
}

// WithCodeExecution enables or disables the code execution tool (default false).
func WithCodeExecution(enabled bool) Option {
	return func(g *Gemini) { g.codeExecution = enabled }
}

// WithGoogleSearch enables or disables grounding with Google Search (default false).
func WithGoogleSearch(enabled bool) Option {
	return func(g *Gemini) { g.googleSearch = enabled }
}

// WithURLContext enables or disables URL context (default false).
func WithURLContext(enabled bool) Option {
	return func(g *Gemini) { g.urlContext = enabled }
}
