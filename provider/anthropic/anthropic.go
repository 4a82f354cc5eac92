// Package anthropic implements the Anthropic Claude LLM provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	turtle "github.com/sea-turtle/sea-turtle"
)

const defaultMaxTokens int64 = 4096

// Anthropic implements turtle.Provider for Claude models.
type Anthropic struct {
	sdk       anthropicsdk.Client
	maxTokens int64
}

// New creates a new Anthropic provider. baseURL overrides the default
// Anthropic API endpoint when non-empty (e.g. for a compatible proxy).
func New(apiKey, baseURL string) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &Anthropic{
		sdk:       anthropicsdk.NewClient(opts...),
		maxTokens: defaultMaxTokens,
	}
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Chat sends a non-streaming chat request and returns the complete response.
func (a *Anthropic) Chat(ctx context.Context, req turtle.ChatRequest) (turtle.LLMResponse, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return turtle.LLMResponse{}, a.wrapErr(err.Error())
	}

	resp, err := a.sdk.Messages.New(ctx, params)
	if err != nil {
		return turtle.LLMResponse{}, wrapSDKErr("messages.new", err)
	}

	out := messageFromResponse(resp)
	out.Model = req.Model
	return out, nil
}

// Stream sends a request and yields text chunks on ch as they arrive, then
// returns the final assembled response. ch is never closed here.
func (a *Anthropic) Stream(ctx context.Context, req turtle.ChatRequest, ch chan<- string) (turtle.LLMResponse, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return turtle.LLMResponse{}, a.wrapErr(err.Error())
	}

	stream := a.sdk.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var acc anthropicsdk.Message
	toolBuffers := map[int64]*toolBuffer{}

	for stream.Next() {
		event := stream.Current()
		// The SDK's Accumulate can choke on tool_use blocks whose partial JSON
		// input hasn't closed yet; we track tool call arguments ourselves via
		// toolBuffers, so this error is safe to ignore.
		_ = acc.Accumulate(event)

		switch ev := event.AsAny().(type) {
		case anthropicsdk.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
				toolBuffers[ev.Index] = &toolBuffer{name: block.Name, id: block.ID}
			}
		case anthropicsdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				if delta.Text != "" {
					ch <- delta.Text
				}
			case anthropicsdk.InputJSONDelta:
				if tb := toolBuffers[ev.Index]; tb != nil {
					tb.buf.WriteString(delta.PartialJSON)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return turtle.LLMResponse{}, wrapSDKErr("stream", err)
	}

	out := messageFromResponse(&acc)
	out.Model = req.Model

	// Prefer our own tool-argument tracking: the SDK's Accumulate is known to
	// mis-marshal partial tool_use input for some streamed deltas.
	if len(toolBuffers) > 0 {
		indices := make([]int64, 0, len(toolBuffers))
		for i := range toolBuffers {
			indices = append(indices, i)
		}
		for i := 0; i < len(indices); i++ {
			for j := i + 1; j < len(indices); j++ {
				if indices[j] < indices[i] {
					indices[i], indices[j] = indices[j], indices[i]
				}
			}
		}
		out.ToolCalls = nil
		for _, idx := range indices {
			out.ToolCalls = append(out.ToolCalls, toolBuffers[idx].toToolCall())
		}
	}

	return out, nil
}

func (a *Anthropic) buildParams(req turtle.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	system, messages, err := adaptMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	tools, err := adaptTools(req.Tools)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := a.maxTokens
	if req.MaxOutputTokens > 0 {
		maxTokens = int64(req.MaxOutputTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  messages,
		System:    system,
		Tools:     tools,
		MaxTokens: maxTokens,
	}
	if req.Temperature != 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}
	switch req.ToolChoice {
	case "none":
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfNone: &anthropicsdk.ToolChoiceNoneParam{}}
	case "required":
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAny: &anthropicsdk.ToolChoiceAnyParam{}}
	}

	return params, nil
}

func adaptMessages(msgs []turtle.ChatMessage) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	var system []anthropicsdk.TextBlockParam
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	toolResultCount := 0

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
			}

		case "user":
			if m.Content != "" {
				out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
			}

		case "assistant":
			var blocks []anthropicsdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
			}

		case "tool":
			id := m.ToolCallID
			if id == "" {
				toolResultCount++
				id = fmt.Sprintf("tool-result-%d", toolResultCount)
			}
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewToolResultBlock(id, m.Content, false)))

		default:
			return nil, nil, fmt.Errorf("anthropic provider: unsupported role %q", m.Role)
		}
	}

	return system, out, nil
}

func adaptTools(tools []turtle.ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("anthropic provider: tool name required")
		}

		schema := anthropicsdk.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		if len(t.Parameters) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(t.Parameters, &raw); err == nil {
				if props, ok := raw["properties"]; ok {
					schema.Properties = props
				}
				if req, ok := raw["required"].([]any); ok {
					for _, item := range req {
						if s, ok := item.(string); ok {
							schema.Required = append(schema.Required, s)
						}
					}
				}
			}
		}

		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &anthropicsdk.ToolParam{
			Name:        t.Name,
			Description: anthropicsdk.String(t.Description),
			InputSchema: schema,
		}})
	}
	return out, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

func messageFromResponse(resp *anthropicsdk.Message) turtle.LLMResponse {
	if resp == nil {
		return turtle.LLMResponse{}
	}

	var sb strings.Builder
	var calls []turtle.ToolCall

	for i, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			sb.WriteString(v.Text)
		case anthropicsdk.ToolUseBlock:
			id := v.ID
			if id == "" {
				id = fmt.Sprintf("call-%d", i+1)
			}
			args := json.RawMessage(v.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, turtle.ToolCall{ID: id, Name: v.Name, Args: args})
		}
	}

	return turtle.LLMResponse{
		Content:      sb.String(),
		ToolCalls:    calls,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		FinishReason: string(resp.StopReason),
		Raw:          resp,
	}
}

func (a *Anthropic) wrapErr(msg string) error {
	return &turtle.ErrLLM{Provider: "anthropic", Message: msg}
}

// wrapSDKErr turns an error returned by the Anthropic SDK into a
// turtle.ErrHTTP when it carries a real HTTP status (so turtle.WithRetry's
// isTransient check can see 429/503 the same way it does for the REST-based
// gemini and openaicompat providers), falling back to ErrLLM otherwise.
func wrapSDKErr(op string, err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = turtle.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &turtle.ErrHTTP{
			Status:     apiErr.StatusCode,
			Body:       apiErr.Error(),
			RetryAfter: retryAfter,
		}
	}
	return &turtle.ErrLLM{Provider: "anthropic", Message: op + ": " + err.Error()}
}

type toolBuffer struct {
	name string
	id   string
	buf  strings.Builder
}

func (tb *toolBuffer) toToolCall() turtle.ToolCall {
	args := strings.TrimSpace(tb.buf.String())
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		args = "{}"
	}
	return turtle.ToolCall{ID: tb.id, Name: tb.name, Args: json.RawMessage(args)}
}

// Compile-time interface assertion.
var _ turtle.Provider = (*Anthropic)(nil)
