package openaicompat

// Option configures an OpenAI-compatible chat request.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithMaxTokens sets the maximum number of output tokens.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithToolChoice controls how the model selects tools: "none", "auto",
// "required", or a specific tool object.
func WithToolChoice(choice any) Option {
	return func(r *ChatRequest) { r.ToolChoice = choice }
}
