package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	turtle "github.com/sea-turtle/sea-turtle"
)

// StreamSSE reads an SSE stream from body, sends text deltas to ch, and
// returns the fully accumulated response (content + tool calls + usage).
// The caller owns ch and is responsible for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- string) (turtle.LLMResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var out turtle.LLMResponse

	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}

		if len(chunk.Choices) == 0 {
			if chunk.Usage != nil {
				out.InputTokens = chunk.Usage.PromptTokens
				out.OutputTokens = chunk.Usage.CompletionTokens
			}
			continue
		}

		delta := chunk.Choices[0].Delta
		if chunk.Choices[0].FinishReason != "" {
			out.FinishReason = chunk.Choices[0].FinishReason
		}
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- delta.Content:
			case <-ctx.Done():
				return turtle.LLMResponse{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}

		if chunk.Usage != nil {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
	}

	if err := scanner.Err(); err != nil {
		return turtle.LLMResponse{}, err
	}

	var calls []turtle.ToolCall
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.Args.String())
		if !json.Valid(args) {
			raw, _ := json.Marshal(map[string]string{"raw": tc.Args.String()})
			args = raw
		}
		calls = append(calls, turtle.ToolCall{ID: tc.ID, Name: tc.Name, Args: args})
	}

	out.Content = fullContent.String()
	out.ToolCalls = calls
	return out, nil
}
