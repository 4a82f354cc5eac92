// Package gemini implements the Google Gemini LLM provider.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	turtle "github.com/sea-turtle/sea-turtle"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements turtle.Provider for Google Gemini models.
type Gemini struct {
	apiKey     string
	httpClient *http.Client

	temperature     float64
	topP            float64
	thinkingEnabled bool
	codeExecution   bool
	googleSearch    bool
	urlContext      bool
}

// New creates a new Gemini provider with functional options. The model is
// not fixed at construction; it is read from ChatRequest.Model on each call.
func New(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a non-streaming chat request and returns the complete response.
func (g *Gemini) Chat(ctx context.Context, req turtle.ChatRequest) (turtle.LLMResponse, error) {
	body := g.buildBody(req)
	return g.doGenerate(ctx, req.Model, body)
}

// Stream sends a request and yields text chunks on ch as they arrive, then
// returns the final assembled response. ch is never closed here.
func (g *Gemini) Stream(ctx context.Context, req turtle.ChatRequest, ch chan<- string) (turtle.LLMResponse, error) {
	body := g.buildBody(req)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL, req.Model, g.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("stream request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return turtle.LLMResponse{}, httpErr(resp, string(b))
	}

	out := turtle.LLMResponse{Model: req.Model}
	var fullContent strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	// Large buffer: a single SSE chunk can carry a long tool-call argument string.
	scanner.Buffer(make([]byte, 0, 4*1024*1024), 4*1024*1024)

	var jsonBuf strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			if jsonBuf.Len() > 0 {
				jsonBuf.WriteString(line)
				if isCompleteJSON(jsonBuf.String()) {
					g.processStreamChunk(jsonBuf.String(), &out, &fullContent, ch)
					jsonBuf.Reset()
				}
			}
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}

		if isCompleteJSON(data) {
			g.processStreamChunk(data, &out, &fullContent, ch)
		} else {
			jsonBuf.Reset()
			jsonBuf.WriteString(data)
		}
	}

	if jsonBuf.Len() > 0 && isCompleteJSON(jsonBuf.String()) {
		g.processStreamChunk(jsonBuf.String(), &out, &fullContent, ch)
	}

	out.Content = fullContent.String()
	return out, nil
}

// processStreamChunk parses a single JSON chunk from the SSE stream, extracts
// text deltas, tool calls and usage, and sends text to the channel.
func (g *Gemini) processStreamChunk(jsonStr string, out *turtle.LLMResponse, fullContent *strings.Builder, ch chan<- string) {
	var parsed geminiResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return
	}

	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil && *part.Text != "" {
				fullContent.WriteString(*part.Text)
				ch <- *part.Text
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, turtle.ToolCall{
					ID:   part.FunctionCall.Name,
					Name: part.FunctionCall.Name,
					Args: functionCallArgs(part.FunctionCall.Args),
				})
			}
		}
		if parsed.Candidates[0].FinishReason != "" {
			out.FinishReason = parsed.Candidates[0].FinishReason
		}
	}

	if parsed.UsageMetadata != nil {
		out.InputTokens = parsed.UsageMetadata.PromptTokenCount
		out.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}
}

// doGenerate performs a non-streaming generateContent call and parses the response.
func (g *Gemini) doGenerate(ctx context.Context, model string, body map[string]any) (turtle.LLMResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, g.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return turtle.LLMResponse{}, g.wrapErr("failed to read response body: " + err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return turtle.LLMResponse{}, httpErr(resp, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return turtle.LLMResponse{}, g.wrapErr("failed to parse response JSON: " + err.Error())
	}

	out := turtle.LLMResponse{Model: model, Raw: parsed}
	var content strings.Builder

	if len(parsed.Candidates) > 0 {
		out.FinishReason = parsed.Candidates[0].FinishReason
		for _, part := range parsed.Candidates[0].Content.Parts {
			// Skip thinking parts (thought: true).
			if part.Thought {
				continue
			}
			if part.Text != nil {
				content.WriteString(*part.Text)
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, turtle.ToolCall{
					ID:   part.FunctionCall.Name,
					Name: part.FunctionCall.Name,
					Args: functionCallArgs(part.FunctionCall.Args),
				})
			}
		}
	}
	out.Content = content.String()

	if parsed.UsageMetadata != nil {
		out.InputTokens = parsed.UsageMetadata.PromptTokenCount
		out.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}

	return out, nil
}

// functionCallArgs normalizes Gemini's functionCall.args into a JSON object,
// falling back to an empty object if args is missing.
func functionCallArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func (g *Gemini) wrapErr(msg string) error {
	return &turtle.ErrLLM{Provider: "gemini", Message: msg}
}

// httpErr creates an ErrHTTP from an HTTP response, extracting the retry delay
// from the Retry-After header or from the Gemini-specific google.rpc.RetryInfo
// detail in the JSON error body.
func httpErr(resp *http.Response, body string) *turtle.ErrHTTP {
	ra := turtle.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &turtle.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       body,
		RetryAfter: ra,
	}
}

// parseRetryInfo extracts the retryDelay from a Gemini error body containing
// a google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// ---- Body builder ----

// buildBody constructs the Gemini API request body from a uniform ChatRequest.
func (g *Gemini) buildBody(req turtle.ChatRequest) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range req.Messages {
		switch {
		case m.Role == "system":
			systemParts = append(systemParts, m.Content)

		case len(m.ToolCalls) > 0:
			// Assistant message with tool calls -> model role with functionCall parts.
			parts := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				var args any
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &args); err != nil {
						args = map[string]any{}
					}
				} else {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": tc.Name,
						"args": args,
					},
				})
			}
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": parts,
			})

		case m.Role == "tool":
			// Tool result message -> user role with functionResponse part.
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{
					{
						"functionResponse": map[string]any{
							"name": m.ToolName,
							"response": map[string]any{
								"result": m.Content,
							},
						},
					},
				},
			})

		default:
			text := m.Content
			entry := map[string]any{
				"role": mapRole(m.Role),
				"parts": []map[string]any{
					{"text": text},
				},
			}
			contents = append(contents, entry)
		}
	}

	body := map[string]any{
		"contents": contents,
	}

	if len(systemParts) > 0 {
		combined := strings.Join(systemParts, "\n\n")
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": combined},
			},
		}
	}

	var toolEntries []map[string]any

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{}
				}
			} else {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		toolEntries = append(toolEntries, map[string]any{
			"functionDeclarations": declarations,
		})
	}

	if g.codeExecution {
		toolEntries = append(toolEntries, map[string]any{"codeExecution": map[string]any{}})
	}
	if g.googleSearch {
		toolEntries = append(toolEntries, map[string]any{"googleSearch": map[string]any{}})
	}
	if g.urlContext {
		toolEntries = append(toolEntries, map[string]any{"urlContext": map[string]any{}})
	}

	if len(toolEntries) > 0 {
		body["tools"] = toolEntries
	}

	if req.ToolChoice == "none" {
		body["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "NONE"},
		}
	} else if req.ToolChoice == "required" {
		body["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "ANY"},
		}
	}

	temperature := g.temperature
	if req.Temperature != 0 {
		temperature = req.Temperature
	}
	genConfig := map[string]any{
		"temperature": temperature,
		"topP":        g.topP,
	}
	if req.MaxOutputTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxOutputTokens
	}
	if g.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{"thinkingBudget": -1}
	}

	body["generationConfig"] = genConfig

	return body
}

// mapRole converts standard roles to Gemini API roles.
func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
	Thought      bool            `json:"thought,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// isCompleteJSON checks whether a string has balanced braces/brackets,
// indicating it is a complete JSON value.
func isCompleteJSON(s string) bool {
	depth := 0
	inString := false
	escape := false

	for _, ch := range s {
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0 && !inString
}

// Compile-time interface assertion.
var _ turtle.Provider = (*Gemini)(nil)
