package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	turtle "github.com/sea-turtle/sea-turtle"
)

func TestChat_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected key=test-key in query, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "Hello!"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 2}
		}`))
	}))
	defer srv.Close()
	baseURL = srv.URL
	defer func() { baseURL = "https://generativelanguage.googleapis.com/v1beta" }()

	g := New("test-key")
	resp, err := g.Chat(context.Background(), turtle.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []turtle.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 2 {
		t.Errorf("unexpected token counts: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.FinishReason != "STOP" {
		t.Errorf("expected finish reason STOP, got %q", resp.FinishReason)
	}
}

func TestChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"2s"}]}}`))
	}))
	defer srv.Close()
	baseURL = srv.URL
	defer func() { baseURL = "https://generativelanguage.googleapis.com/v1beta" }()

	g := New("test-key")
	_, err := g.Chat(context.Background(), turtle.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []turtle.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	httpErr, ok := err.(*turtle.ErrHTTP)
	if !ok {
		t.Fatalf("expected *turtle.ErrHTTP, got %T", err)
	}
	if httpErr.RetryAfter.Seconds() != 2 {
		t.Errorf("expected RetryAfter 2s from RetryInfo detail, got %v", httpErr.RetryAfter)
	}
}

func TestStream_AccumulatesTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2}}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()
	baseURL = srv.URL
	defer func() { baseURL = "https://generativelanguage.googleapis.com/v1beta" }()

	g := New("test-key")
	ch := make(chan string, 10)
	resp, err := g.Stream(context.Background(), turtle.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []turtle.ChatMessage{{Role: "user", Content: "Hi"}},
	}, ch)
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	close(ch)
	var deltas []string
	for d := range ch {
		deltas = append(deltas, d)
	}

	if resp.Content != "Hello world" {
		t.Errorf("expected content 'Hello world', got %q", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %d: %v", len(deltas), deltas)
	}
	if resp.InputTokens != 4 || resp.OutputTokens != 2 {
		t.Errorf("unexpected token counts: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestBuildBody_SystemMessages(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model: "test-model",
		Messages: []turtle.ChatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "system", Content: "Be concise."},
			{Role: "user", Content: "Hello"},
		},
	}

	body := g.buildBody(req)

	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in body")
	}
	parts, ok := si["parts"].([]map[string]any)
	if !ok || len(parts) != 1 {
		t.Fatal("expected exactly 1 systemInstruction part")
	}
	text, ok := parts[0]["text"].(string)
	if !ok {
		t.Fatal("expected text field in systemInstruction part")
	}
	if text != "You are a helpful assistant.\n\nBe concise." {
		t.Errorf("unexpected system text: %q", text)
	}

	contents, ok := body["contents"].([]map[string]any)
	if !ok {
		t.Fatal("expected contents array in body")
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry (user only), got %d", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected role 'user', got %q", contents[0]["role"])
	}
}

func TestBuildBody_AssistantMapsToModel(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model: "test-model",
		Messages: []turtle.ChatMessage{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
			{Role: "user", Content: "How are you?"},
		},
	}

	body := g.buildBody(req)

	contents := body["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}
	if contents[1]["role"] != "model" {
		t.Errorf("expected assistant role mapped to 'model', got %q", contents[1]["role"])
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected first role 'user', got %q", contents[0]["role"])
	}
	if contents[2]["role"] != "user" {
		t.Errorf("expected third role 'user', got %q", contents[2]["role"])
	}
}

func TestBuildBody_ToolResults(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model: "test-model",
		Messages: []turtle.ChatMessage{
			{Role: "user", Content: "Search for cats"},
			{
				Role: "assistant",
				ToolCalls: []turtle.ToolCall{
					{ID: "search", Name: "search", Args: json.RawMessage(`{"query":"cats"}`)},
				},
			},
			{Role: "tool", Content: "Found 10 results about cats", ToolName: "search", ToolCallID: "search"},
		},
	}

	body := g.buildBody(req)

	contents := body["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}

	assistantEntry := contents[1]
	if assistantEntry["role"] != "model" {
		t.Errorf("expected tool call entry role 'model', got %q", assistantEntry["role"])
	}
	parts := assistantEntry["parts"].([]map[string]any)
	if len(parts) != 1 {
		t.Fatalf("expected 1 functionCall part, got %d", len(parts))
	}
	fc := parts[0]["functionCall"].(map[string]any)
	if fc["name"] != "search" {
		t.Errorf("expected functionCall name 'search', got %q", fc["name"])
	}

	toolEntry := contents[2]
	if toolEntry["role"] != "user" {
		t.Errorf("expected tool result role 'user', got %q", toolEntry["role"])
	}
	toolParts := toolEntry["parts"].([]map[string]any)
	if len(toolParts) != 1 {
		t.Fatalf("expected 1 functionResponse part, got %d", len(toolParts))
	}
	fr := toolParts[0]["functionResponse"].(map[string]any)
	if fr["name"] != "search" {
		t.Errorf("expected functionResponse name 'search', got %q", fr["name"])
	}
	resp := fr["response"].(map[string]any)
	if resp["result"] != "Found 10 results about cats" {
		t.Errorf("unexpected functionResponse result: %v", resp["result"])
	}
}

func TestBuildBody_ToolDeclarations(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model:    "test-model",
		Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}},
		Tools: []turtle.ToolDefinition{{
			Name:        "get_weather",
			Description: "Get the current weather",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
	}

	body := g.buildBody(req)

	toolsField, ok := body["tools"].([]map[string]any)
	if !ok || len(toolsField) != 1 {
		t.Fatal("expected tools array with 1 entry")
	}

	decls, ok := toolsField[0]["functionDeclarations"].([]map[string]any)
	if !ok || len(decls) != 1 {
		t.Fatal("expected 1 function declaration")
	}
	if decls[0]["name"] != "get_weather" {
		t.Errorf("expected declaration name 'get_weather', got %q", decls[0]["name"])
	}
	if decls[0]["description"] != "Get the current weather" {
		t.Errorf("unexpected description: %q", decls[0]["description"])
	}
}

func TestBuildBody_EmptyContentGetsFallbackPart(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{Model: "test-model", Messages: []turtle.ChatMessage{{Role: "user", Content: ""}}}

	body := g.buildBody(req)

	contents := body["contents"].([]map[string]any)
	parts := contents[0]["parts"].([]map[string]any)
	if len(parts) != 1 {
		t.Fatalf("expected 1 fallback part, got %d", len(parts))
	}
	if parts[0]["text"] != "" {
		t.Errorf("expected empty text fallback, got %v", parts[0])
	}
}

func TestBuildBody_GenerationConfig(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{Model: "test-model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)

	gc, ok := body["generationConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected generationConfig in body")
	}

	temp, ok := gc["temperature"].(float64)
	if !ok || temp != 0.1 {
		t.Errorf("expected temperature 0.1, got %v", gc["temperature"])
	}
	topP, ok := gc["topP"].(float64)
	if !ok || topP != 0.9 {
		t.Errorf("expected topP 0.9, got %v", gc["topP"])
	}
	if _, ok := gc["thinkingConfig"]; ok {
		t.Error("expected no thinkingConfig when thinking is disabled")
	}
}

func TestBuildBody_RequestTemperatureOverridesDefault(t *testing.T) {
	g := New("test-key", WithTemperature(0.1))
	req := turtle.ChatRequest{
		Model:       "test-model",
		Messages:    []turtle.ChatMessage{{Role: "user", Content: "Hello"}},
		Temperature: 0.8,
	}

	body := g.buildBody(req)
	gc := body["generationConfig"].(map[string]any)
	if gc["temperature"] != 0.8 {
		t.Errorf("expected request temperature 0.8 to win, got %v", gc["temperature"])
	}
}

func TestBuildBody_GenerationConfigWithOptions(t *testing.T) {
	g := New("key", WithTemperature(0.7), WithTopP(0.95), WithThinking(true))
	req := turtle.ChatRequest{Model: "model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)

	gc := body["generationConfig"].(map[string]any)
	if gc["temperature"] != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", gc["temperature"])
	}
	if gc["topP"] != 0.95 {
		t.Errorf("expected topP 0.95, got %v", gc["topP"])
	}

	tc, ok := gc["thinkingConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected thinkingConfig when thinking is enabled")
	}
	if tc["thinkingBudget"] != -1 {
		t.Errorf("expected thinkingBudget -1, got %v", tc["thinkingBudget"])
	}
}

func TestBuildBody_MaxOutputTokens(t *testing.T) {
	g := New("key")
	req := turtle.ChatRequest{
		Model:           "model",
		Messages:        []turtle.ChatMessage{{Role: "user", Content: "Hello"}},
		MaxOutputTokens: 512,
	}

	body := g.buildBody(req)
	gc := body["generationConfig"].(map[string]any)
	if gc["maxOutputTokens"] != 512 {
		t.Errorf("expected maxOutputTokens 512, got %v", gc["maxOutputTokens"])
	}
}

func TestBuildBody_ToolChoiceNone(t *testing.T) {
	g := New("key")
	req := turtle.ChatRequest{
		Model:      "model",
		Messages:   []turtle.ChatMessage{{Role: "user", Content: "Hello"}},
		ToolChoice: "none",
	}

	body := g.buildBody(req)
	tc, ok := body["toolConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected toolConfig in body when ToolChoice is none")
	}
	fc := tc["functionCallingConfig"].(map[string]any)
	if fc["mode"] != "NONE" {
		t.Errorf("expected mode NONE, got %v", fc["mode"])
	}
}

func TestBuildBody_ToolChoiceRequired(t *testing.T) {
	g := New("key")
	req := turtle.ChatRequest{
		Model:      "model",
		Messages:   []turtle.ChatMessage{{Role: "user", Content: "Hello"}},
		ToolChoice: "required",
	}

	body := g.buildBody(req)
	tc := body["toolConfig"].(map[string]any)
	fc := tc["functionCallingConfig"].(map[string]any)
	if fc["mode"] != "ANY" {
		t.Errorf("expected mode ANY, got %v", fc["mode"])
	}
}

func TestBuildBody_ToolConfigOmittedWithoutChoice(t *testing.T) {
	g := New("key")
	req := turtle.ChatRequest{Model: "model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)
	if _, ok := body["toolConfig"]; ok {
		t.Error("expected no toolConfig when ToolChoice is unset")
	}
}

func TestBuildBody_AdditionalToolTypes(t *testing.T) {
	g := New("key", WithCodeExecution(true), WithGoogleSearch(true), WithURLContext(true))
	req := turtle.ChatRequest{Model: "model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)

	toolsField, ok := body["tools"].([]map[string]any)
	if !ok {
		t.Fatal("expected tools array when tool types are enabled")
	}
	if len(toolsField) != 3 {
		t.Fatalf("expected 3 tool entries (codeExecution, googleSearch, urlContext), got %d", len(toolsField))
	}

	if _, ok := toolsField[0]["codeExecution"]; !ok {
		t.Error("expected codeExecution tool entry")
	}
	if _, ok := toolsField[1]["googleSearch"]; !ok {
		t.Error("expected googleSearch tool entry")
	}
	if _, ok := toolsField[2]["urlContext"]; !ok {
		t.Error("expected urlContext tool entry")
	}
}

func TestMapRole(t *testing.T) {
	tests := []struct{ input, expected string }{
		{"user", "user"},
		{"assistant", "model"},
		{"system", "system"},
		{"tool", "tool"},
	}
	for _, tt := range tests {
		if got := mapRole(tt.input); got != tt.expected {
			t.Errorf("mapRole(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsCompleteJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{`{"key": "value"}`, true},
		{`{"key": "val`, false},
		{`{"nested": {"a": 1}}`, true},
		{`[1, 2, 3]`, true},
		{`[1, 2`, false},
		{`{"key": "value with \" escape"}`, true},
		{`{"key": "value with { brace"}`, true},
		{``, true},
	}
	for _, tt := range tests {
		if got := isCompleteJSON(tt.input); got != tt.expected {
			t.Errorf("isCompleteJSON(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestBuildBody_NoSystemInstruction(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{Model: "test-model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)
	if _, ok := body["systemInstruction"]; ok {
		t.Error("expected no systemInstruction when there are no system messages")
	}
}

func TestBuildBody_NoToolsOmitted(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{Model: "test-model", Messages: []turtle.ChatMessage{{Role: "user", Content: "Hello"}}}

	body := g.buildBody(req)
	if _, ok := body["tools"]; ok {
		t.Error("expected no tools field when tools slice is nil")
	}
}

func TestBuildBody_MultipleToolCalls(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model: "test-model",
		Messages: []turtle.ChatMessage{
			{Role: "user", Content: "Search and calculate"},
			{Role: "assistant", ToolCalls: []turtle.ToolCall{
				{ID: "search", Name: "search", Args: json.RawMessage(`{"q":"test"}`)},
				{ID: "calc", Name: "calc", Args: json.RawMessage(`{"expr":"1+1"}`)},
			}},
		},
	}

	body := g.buildBody(req)

	contents := body["contents"].([]map[string]any)
	if len(contents) != 2 {
		t.Fatalf("expected 2 content entries, got %d", len(contents))
	}

	parts := contents[1]["parts"].([]map[string]any)
	if len(parts) != 2 {
		t.Fatalf("expected 2 functionCall parts, got %d", len(parts))
	}

	fc0 := parts[0]["functionCall"].(map[string]any)
	fc1 := parts[1]["functionCall"].(map[string]any)
	if fc0["name"] != "search" {
		t.Errorf("expected first functionCall name 'search', got %q", fc0["name"])
	}
	if fc1["name"] != "calc" {
		t.Errorf("expected second functionCall name 'calc', got %q", fc1["name"])
	}
}

func TestNewConstructor(t *testing.T) {
	g := New("test-key")
	if g.apiKey != "test-key" {
		t.Errorf("expected apiKey 'test-key', got %q", g.apiKey)
	}
	if g.Name() != "gemini" {
		t.Errorf("expected name 'gemini', got %q", g.Name())
	}
	if g.temperature != 0.1 {
		t.Errorf("expected default temperature 0.1, got %v", g.temperature)
	}
	if g.topP != 0.9 {
		t.Errorf("expected default topP 0.9, got %v", g.topP)
	}
}

func TestNewWithOptions(t *testing.T) {
	g := New("key",
		WithTemperature(0.5),
		WithTopP(0.8),
		WithThinking(true),
		WithCodeExecution(true),
		WithGoogleSearch(true),
		WithURLContext(true),
	)

	if g.temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %v", g.temperature)
	}
	if g.topP != 0.8 {
		t.Errorf("expected topP 0.8, got %v", g.topP)
	}
	if !g.thinkingEnabled {
		t.Error("expected thinkingEnabled true")
	}
	if !g.codeExecution {
		t.Error("expected codeExecution true")
	}
	if !g.googleSearch {
		t.Error("expected googleSearch true")
	}
	if !g.urlContext {
		t.Error("expected urlContext true")
	}
}

func TestDoGenerate_ParsesTextAndToolCalls(t *testing.T) {
	respJSON := `{
		"candidates": [{
			"content": {
				"parts": [
					{"text": "Here you go"},
					{"functionCall": {"name": "search", "args": {"q":"cats"}}}
				],
				"role": "model"
			},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5}
	}`

	var parsed geminiResponse
	if err := json.Unmarshal([]byte(respJSON), &parsed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(parsed.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(parsed.Candidates))
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].Text == nil || *parts[0].Text != "Here you go" {
		t.Errorf("expected text 'Here you go', got %v", parts[0].Text)
	}
	if parts[1].FunctionCall == nil || parts[1].FunctionCall.Name != "search" {
		t.Fatalf("expected functionCall 'search', got %v", parts[1].FunctionCall)
	}
	if parsed.Candidates[0].FinishReason != "STOP" {
		t.Errorf("expected finishReason STOP, got %q", parsed.Candidates[0].FinishReason)
	}
}

// TestBuildBody_JSONRoundTrip verifies that the body can be marshaled to valid JSON.
func TestBuildBody_JSONRoundTrip(t *testing.T) {
	g := New("test-key")
	req := turtle.ChatRequest{
		Model: "test-model",
		Messages: []turtle.ChatMessage{
			{Role: "system", Content: "You are helpful."},
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi there!"},
			{Role: "user", Content: "Search for something"},
			{Role: "assistant", ToolCalls: []turtle.ToolCall{
				{ID: "search", Name: "search", Args: json.RawMessage(`{"q":"something"}`)},
			}},
			{Role: "tool", Content: "results here", ToolName: "search", ToolCallID: "search"},
		},
		Tools: []turtle.ToolDefinition{
			{Name: "search", Description: "Search the web", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	body := g.buildBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body to JSON: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to parse round-tripped JSON: %v", err)
	}

	if _, ok := parsed["contents"]; !ok {
		t.Error("missing 'contents' in round-tripped JSON")
	}
	if _, ok := parsed["systemInstruction"]; !ok {
		t.Error("missing 'systemInstruction' in round-tripped JSON")
	}
	if _, ok := parsed["tools"]; !ok {
		t.Error("missing 'tools' in round-tripped JSON")
	}
	if _, ok := parsed["generationConfig"]; !ok {
		t.Error("missing 'generationConfig' in round-tripped JSON")
	}
}
