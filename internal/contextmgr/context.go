// Package contextmgr manages one agent's conversation history and its
// automatic compression, spec.md §4.G. Mirrors
// original_source/sea_turtle/core/context.py's ContextManager, with the
// compression LLM call routed through the uniform turtle.Provider contract.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/config"
)

// Stats summarizes the manager's current state, for the /context slash command.
type Stats struct {
	MessageCount      int
	EstimatedTokens   int
	MaxTokens         int
	UsageRatio        float64
	CompressionCount  int
	NeedsCompression  bool
}

// Manager holds one agent's conversation history in memory and compresses
// it into a running summary once the estimated token count crosses a
// configured threshold. Not safe for concurrent use; callers serialize
// access per agent (the worker loop is single-threaded per agent).
type Manager struct {
	maxTokens              int
	compressThresholdRatio float64
	compressTargetRatio    float64
	compressModel          string

	systemPrompt string
	messages     []turtle.ChatMessage

	estimatedTokens  int
	compressionCount int
}

// New builds a Manager from the daemon's context configuration.
func New(cfg config.ContextConfig) *Manager {
	return &Manager{
		maxTokens:              cfg.MaxTokens,
		compressThresholdRatio: cfg.CompressThresholdRatio,
		compressTargetRatio:    cfg.CompressTargetRatio,
		compressModel:          cfg.CompressModel,
	}
}

// SetSystemPrompt sets the system prompt, which is never counted toward
// compression and is always prepended to Messages().
func (m *Manager) SetSystemPrompt(prompt string) {
	m.systemPrompt = prompt
}

// Add appends one message to the conversation history.
func (m *Manager) Add(msg turtle.ChatMessage) {
	m.messages = append(m.messages, msg)
	m.estimatedTokens += estimateTokens(msg.Content)
}

// Messages returns the full message list ready for an LLM call: the system
// prompt (if set) followed by conversation history.
func (m *Manager) Messages() []turtle.ChatMessage {
	if m.systemPrompt == "" {
		out := make([]turtle.ChatMessage, len(m.messages))
		copy(out, m.messages)
		return out
	}
	out := make([]turtle.ChatMessage, 0, len(m.messages)+1)
	out = append(out, turtle.SystemMessage(m.systemPrompt))
	out = append(out, m.messages...)
	return out
}

// NeedsCompression reports whether the estimated token count has crossed
// the configured threshold ratio of max_tokens.
func (m *Manager) NeedsCompression() bool {
	threshold := int(float64(m.maxTokens) * m.compressThresholdRatio)
	return m.estimatedTokens >= threshold
}

// Compress summarizes the older half of the conversation via provider,
// using compressModel, and replaces it with a single system message
// carrying the summary. The most recent half of messages is kept verbatim.
// Returns false (without error) when compression isn't needed, there are
// too few messages to split usefully, or the summarization call fails —
// callers should simply proceed with the uncompressed context in that case.
func (m *Manager) Compress(ctx context.Context, provider turtle.Provider) bool {
	if !m.NeedsCompression() {
		return false
	}
	if len(m.messages) < 4 {
		return false
	}

	splitPoint := len(m.messages) / 2
	oldMessages := m.messages[:splitPoint]
	recentMessages := m.messages[splitPoint:]

	prompt := buildSummaryPrompt(oldMessages)

	resp, err := provider.Chat(ctx, turtle.ChatRequest{
		Model:           m.compressModel,
		Messages:        []turtle.ChatMessage{turtle.UserMessage(prompt)},
		Temperature:     0.3,
		MaxOutputTokens: 2000,
	})
	if err != nil {
		slog.Error("context compression failed", "error", err)
		return false
	}

	summary := resp.Content
	if summary == "" {
		return false
	}

	compressed := turtle.SystemMessage(fmt.Sprintf("[Compressed context summary]\n%s", summary))
	m.messages = append([]turtle.ChatMessage{compressed}, recentMessages...)

	tokens := estimateTokens(summary)
	for _, msg := range recentMessages {
		tokens += estimateTokens(msg.Content)
	}
	m.estimatedTokens = tokens
	m.compressionCount++

	slog.Info("context compressed",
		"compression_count", m.compressionCount,
		"summarized", len(oldMessages),
		"kept", len(recentMessages),
		"estimated_tokens", m.estimatedTokens,
	)
	return true
}

func buildSummaryPrompt(messages []turtle.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely, preserving key facts, ")
	sb.WriteString("decisions, and context that would be needed to continue the conversation. ")
	sb.WriteString("Focus on: user requests, important results, pending items, and any commitments made.\n\n")
	for _, msg := range messages {
		content := msg.Content
		if len(content) > 500 {
			content = content[:500]
		}
		fmt.Fprintf(&sb, "**%s**: %s\n\n", msg.Role, content)
	}
	return sb.String()
}

// Reset clears all conversation history, keeping the system prompt.
func (m *Manager) Reset() {
	m.messages = nil
	m.estimatedTokens = 0
}

// GetStats returns a snapshot of the manager's token and compression state.
func (m *Manager) GetStats() Stats {
	ratio := 0.0
	if m.maxTokens > 0 {
		ratio = float64(m.estimatedTokens) / float64(m.maxTokens)
	}
	return Stats{
		MessageCount:     len(m.messages),
		EstimatedTokens:  m.estimatedTokens,
		MaxTokens:        m.maxTokens,
		UsageRatio:       ratio,
		CompressionCount: m.compressionCount,
		NeedsCompression: m.NeedsCompression(),
	}
}

// estimateTokens is a rough token estimate: ~4 chars/token for ASCII text,
// ~2 chars/token for non-ASCII (e.g. CJK).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	asciiChars := 0
	for _, r := range text {
		if r < 128 {
			asciiChars++
		}
	}
	nonASCII := len([]rune(text)) - asciiChars
	return asciiChars/4 + nonASCII/2 + 1
}
