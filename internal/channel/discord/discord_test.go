package discord

import "testing"

func TestName(t *testing.T) {
	b, err := New("fake-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name() != "discord" {
		t.Errorf("expected Name() discord, got %q", b.Name())
	}
}

func TestSplitMessage_ShortTextUnsplit(t *testing.T) {
	chunks := splitMessage("short")
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
}

func TestSplitMessage_SplitsAtLimit(t *testing.T) {
	long := make([]byte, maxMessageLength*2+50)
	for i := range long {
		long[i] = 'x'
	}
	chunks := splitMessage(string(long))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks[:len(chunks)-1] {
		if len(c) != maxMessageLength {
			t.Errorf("expected full-size chunk, got length %d", len(c))
		}
	}
}
