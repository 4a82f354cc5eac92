package contextmgr

import (
	"context"
	"testing"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/config"
)

type fakeProvider struct {
	content string
	err     error
	calls   []turtle.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req turtle.ChatRequest) (turtle.LLMResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return turtle.LLMResponse{}, f.err
	}
	return turtle.LLMResponse{Content: f.content}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req turtle.ChatRequest, ch chan<- string) (turtle.LLMResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) Name() string { return "fake" }

func testConfig() config.ContextConfig {
	return config.ContextConfig{
		MaxTokens:              1000,
		CompressThresholdRatio: 0.7,
		CompressTargetRatio:    0.3,
		CompressModel:          "gemini-2.0-flash",
	}
}

func TestAddAndMessages(t *testing.T) {
	m := New(testConfig())
	m.SetSystemPrompt("be helpful")
	m.Add(turtle.UserMessage("hello"))
	m.Add(turtle.AssistantMessage("hi there"))

	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (system + 2), got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be helpful" {
		t.Errorf("expected system prompt first, got %+v", msgs[0])
	}
}

func TestMessagesWithoutSystemPrompt(t *testing.T) {
	m := New(testConfig())
	m.Add(turtle.UserMessage("hello"))
	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestNeedsCompression(t *testing.T) {
	m := New(testConfig())
	if m.NeedsCompression() {
		t.Fatal("fresh manager should not need compression")
	}
	// 1000 max_tokens * 0.7 threshold = 700 tokens needed.
	big := make([]byte, 3000)
	for i := range big {
		big[i] = 'a'
	}
	m.Add(turtle.UserMessage(string(big)))
	if !m.NeedsCompression() {
		t.Fatal("expected compression to be needed after large message")
	}
}

func TestCompress_NoOpWhenNotNeeded(t *testing.T) {
	m := New(testConfig())
	m.Add(turtle.UserMessage("short"))
	p := &fakeProvider{content: "summary"}
	if m.Compress(context.Background(), p) {
		t.Fatal("expected no-op compression when threshold not crossed")
	}
	if len(p.calls) != 0 {
		t.Fatal("provider should not be called when compression is not needed")
	}
}

func TestCompress_NoOpWithFewMessages(t *testing.T) {
	m := New(testConfig())
	big := make([]byte, 3000)
	for i := range big {
		big[i] = 'a'
	}
	m.Add(turtle.UserMessage(string(big)))
	m.Add(turtle.UserMessage(string(big)))
	p := &fakeProvider{content: "summary"}
	if m.Compress(context.Background(), p) {
		t.Fatal("expected no-op compression with fewer than 4 messages")
	}
}

func TestCompress_SummarizesOldHalf(t *testing.T) {
	m := New(testConfig())
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'a'
	}
	for i := 0; i < 6; i++ {
		m.Add(turtle.UserMessage(string(big)))
	}

	p := &fakeProvider{content: "the gist of it"}
	if !m.Compress(context.Background(), p) {
		t.Fatal("expected compression to succeed")
	}

	if len(p.calls) != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", len(p.calls))
	}
	call := p.calls[0]
	if call.Model != "gemini-2.0-flash" {
		t.Errorf("expected compress model, got %q", call.Model)
	}
	if call.Temperature != 0.3 || call.MaxOutputTokens != 2000 {
		t.Errorf("unexpected compression call params: %+v", call)
	}

	msgs := m.Messages()
	if len(msgs) != 4 { // 1 summary + 3 recent (6/2=3 kept)
		t.Fatalf("expected 4 messages after compression, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("expected first message to be the summary, got role %q", msgs[0].Role)
	}

	stats := m.GetStats()
	if stats.CompressionCount != 1 {
		t.Errorf("expected compression count 1, got %d", stats.CompressionCount)
	}
}

func TestCompress_FailureLeavesHistoryIntact(t *testing.T) {
	m := New(testConfig())
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'a'
	}
	for i := 0; i < 6; i++ {
		m.Add(turtle.UserMessage(string(big)))
	}

	p := &fakeProvider{err: &turtle.ErrLLM{Provider: "fake", Message: "boom"}}
	if m.Compress(context.Background(), p) {
		t.Fatal("expected compression failure to return false")
	}
	if len(m.messages) != 6 {
		t.Fatalf("expected history untouched after failed compression, got %d messages", len(m.messages))
	}
}

func TestCompress_EmptySummaryIsNoOp(t *testing.T) {
	m := New(testConfig())
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'a'
	}
	for i := 0; i < 6; i++ {
		m.Add(turtle.UserMessage(string(big)))
	}

	p := &fakeProvider{content: ""}
	if m.Compress(context.Background(), p) {
		t.Fatal("expected empty summary to be treated as a failed compression")
	}
}

func TestReset(t *testing.T) {
	m := New(testConfig())
	m.Add(turtle.UserMessage("hi"))
	m.Reset()
	if len(m.messages) != 0 || m.estimatedTokens != 0 {
		t.Fatal("expected Reset to clear history and token estimate")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens(\"\") = %d, want 0", got)
	}
	// 8 ascii chars -> 8/4 + 0 + 1 = 3
	if got := estimateTokens("abcdefgh"); got != 3 {
		t.Errorf("estimateTokens(8 ascii) = %d, want 3", got)
	}
	// non-ascii chars counted at half rate
	if got := estimateTokens("日本語"); got != 2 { // 0 ascii + 3/2 + 1 = 2
		t.Errorf("estimateTokens(CJK) = %d, want 2", got)
	}
}

func TestGetStats(t *testing.T) {
	m := New(testConfig())
	m.Add(turtle.UserMessage("hello"))
	stats := m.GetStats()
	if stats.MessageCount != 1 {
		t.Errorf("expected 1 message, got %d", stats.MessageCount)
	}
	if stats.MaxTokens != 1000 {
		t.Errorf("expected max_tokens 1000, got %d", stats.MaxTokens)
	}
}
