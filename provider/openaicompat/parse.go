package openaicompat

import (
	"encoding/json"

	turtle "github.com/sea-turtle/sea-turtle"
)

// ParseResponse converts an OpenAI-format ChatResponse into a turtle
// LLMResponse, extracting content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (turtle.LLMResponse, error) {
	out := turtle.LLMResponse{Model: resp.Model, Raw: resp}

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	out.FinishReason = choice.FinishReason
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.InputTokens = resp.Usage.PromptTokens
		out.OutputTokens = resp.Usage.CompletionTokens
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to turtle ToolCalls.
// OpenAI returns function.arguments as a JSON string; malformed arguments
// fall back to {"raw": "<original text>"} rather than dropping the call.
func ParseToolCalls(tcs []ToolCallRequest) []turtle.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]turtle.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			raw, _ := json.Marshal(map[string]string{"raw": tc.Function.Arguments})
			args = raw
		}
		out = append(out, turtle.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
