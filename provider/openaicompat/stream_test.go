package openaicompat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// buildSSE constructs a mock SSE stream from data lines.
func buildSSE(lines ...string) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// drain collects whatever StreamSSE wrote to ch. The caller owns ch, so
// tests close it once the call returns (no concurrent writer left).
func drain(ch chan string) []string {
	close(ch)
	var out []string
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestStreamSSE_TextChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"!"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`,
		"[DONE]",
	)

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	deltas := drain(ch)

	if resp.Content != "Hello world!" {
		t.Errorf("expected content 'Hello world!', got %q", resp.Content)
	}
	if len(deltas) != 3 {
		t.Errorf("expected 3 deltas, got %d: %v", len(deltas), deltas)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 3 {
		t.Errorf("unexpected token counts: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason 'stop', got %q", resp.FinishReason)
	}
}

func TestStreamSSE_ToolCallChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\""}}]}}]}`,
		`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"London"}}]}}]}`,
		`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"}"}}]}}]}`,
		`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":15}}`,
		"[DONE]",
	)

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	deltas := drain(ch)
	if len(deltas) != 0 {
		t.Errorf("expected no text deltas for tool call stream, got %d", len(deltas))
	}
	if resp.Content != "" {
		t.Errorf("expected empty content, got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}

	tc := resp.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "get_weather" {
		t.Errorf("unexpected tool call: %+v", tc)
	}

	var args map[string]any
	if err := json.Unmarshal(tc.Args, &args); err != nil {
		t.Fatalf("failed to parse tool call args: %v", err)
	}
	if args["city"] != "London" {
		t.Errorf("expected city 'London', got %v", args["city"])
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 15 {
		t.Errorf("unexpected token counts: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestStreamSSE_MultipleToolCalls(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-3","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
		`{"id":"chatcmpl-3","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":\"test\"}"}}]}}]}`,
		`{"id":"chatcmpl-3","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"calc","arguments":""}}]}}]}`,
		`{"id":"chatcmpl-3","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"expr\":\"1+1\"}"}}]}}]}`,
		`{"id":"chatcmpl-3","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	)

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	drain(ch)

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "search" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("unexpected first tool call: %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Name != "calc" || resp.ToolCalls[1].ID != "call_2" {
		t.Errorf("unexpected second tool call: %+v", resp.ToolCalls[1])
	}
}

func TestStreamSSE_EmptyStream(t *testing.T) {
	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(buildSSE("[DONE]")), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	drain(ch)

	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("expected zero-value response, got %+v", resp)
	}
}

func TestStreamSSE_UsageOnlyChunk(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-4","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"id":"chatcmpl-4","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-4","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1}}`,
		"[DONE]",
	)

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	drain(ch)

	if resp.Content != "Hi" {
		t.Errorf("expected content 'Hi', got %q", resp.Content)
	}
	if resp.InputTokens != 3 || resp.OutputTokens != 1 {
		t.Errorf("unexpected token counts: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestStreamSSE_SkipsMalformedChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-5","choices":[{"index":0,"delta":{"content":"Good"}}]}`,
		`this is not json`,
		`{"id":"chatcmpl-5","choices":[{"index":0,"delta":{"content":" day"}}]}`,
		"[DONE]",
	)

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	drain(ch)

	if resp.Content != "Good day" {
		t.Errorf("expected content 'Good day', got %q", resp.Content)
	}
}

func TestStreamSSE_NonDataLinesIgnored(t *testing.T) {
	raw := ": this is a comment\n" +
		"event: message\n" +
		"data: {\"id\":\"chatcmpl-6\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"OK\"}}]}\n\n" +
		"retry: 3000\n" +
		"data: [DONE]\n\n"

	ch := make(chan string, 10)
	resp, err := StreamSSE(context.Background(), strings.NewReader(raw), ch)
	if err != nil {
		t.Fatalf("StreamSSE returned error: %v", err)
	}
	drain(ch)

	if resp.Content != "OK" {
		t.Errorf("expected content 'OK', got %q", resp.Content)
	}
}
