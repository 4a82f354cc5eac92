package turtle

import "encoding/json"

// --- LLM protocol types (uniform contract, spec.md §4.F) ---

// ChatMessage is one turn of a conversation passed to a provider.
type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ToolCall is a structured invocation requested by the model. Args is always
// a JSON object; on malformed arguments from the wire the OpenAI-compatible
// adapter falls back to {"raw": "<original text>"} and the Anthropic
// adapter to {}, rather than dropping the call.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes a callable tool to a provider, JSON-Schema style.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is the uniform request shape across all five providers.
type ChatRequest struct {
	Messages        []ChatMessage    `json:"messages"`
	Model           string           `json:"model"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      string           `json:"tool_choice,omitempty"` // "auto", "required", "none"
}

// LLMResponse is the uniform response shape, spec.md §4.F.
type LLMResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason"`
	Raw          any        `json:"-"`
}

func UserMessage(text string) ChatMessage      { return ChatMessage{Role: "user", Content: text} }
func SystemMessage(text string) ChatMessage    { return ChatMessage{Role: "system", Content: text} }
func AssistantMessage(text string) ChatMessage { return ChatMessage{Role: "assistant", Content: text} }
func ToolResultMessage(callID, toolName, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID, ToolName: toolName}
}

// --- Inter-process message envelope (spec.md §3, §9) ---
//
// Tagged-variant design: a single Envelope carries a Type discriminator and
// only the fields that variant uses. This is the wire contract between the
// daemon and a worker process, encoded as newline-delimited JSON over the
// worker's stdin/stdout pipes.

type EnvelopeType string

const (
	EnvMessage      EnvelopeType = "message"
	EnvSetModel     EnvelopeType = "set_model"
	EnvResetContext EnvelopeType = "reset_context"
	EnvGetStats     EnvelopeType = "get_stats"
	EnvShutdown     EnvelopeType = "shutdown"
	EnvReply        EnvelopeType = "reply"
	EnvStats        EnvelopeType = "stats"
)

// Envelope is the single wire type for both inbox (daemon->worker) and
// outbox (worker->daemon) queues. Only the fields relevant to Type are set;
// unused fields are their zero value. Round-tripping an Envelope through
// json.Marshal/Unmarshal always yields an equal value (invariant 8).
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Content   string          `json:"content,omitempty"`
	Source    string          `json:"source,omitempty"`
	ChatID    string          `json:"chat_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// --- Channel ingress/egress types (spec.md §6 chat channel contract) ---

// IncomingMessage is the inbound tuple a channel adapter delivers to the
// daemon: (text, chat_id, user_id, source).
type IncomingMessage struct {
	Text   string
	ChatID string
	UserID string
	Source string
}

// --- Usage accounting (spec.md §3 token-usage log, §4.B) ---

type UsageRecord struct {
	Timestamp    int64   `json:"timestamp"`
	AgentID      string  `json:"agent_id"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// --- Shell execution result (spec.md §3) ---

type ShellResult struct {
	Command           string `json:"command"`
	ExitCode          int    `json:"exit_code"`
	Stdout            string `json:"stdout"`
	Stderr            string `json:"stderr"`
	TimedOut          bool   `json:"timed_out"`
	Blocked           bool   `json:"blocked"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
}
