// Package telegram implements channel.Channel against the Telegram Bot API
// using hand-rolled long polling, grounded on
// _examples/nevindra-oasis/cmd/bot_example/telegram.go.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	turtle "github.com/sea-turtle/sea-turtle"
)

const (
	maxMessageLength = 4096
	apiBaseURL       = "https://api.telegram.org/bot"
)

// Bot implements channel.Channel for Telegram.
type Bot struct {
	token      string
	httpClient *http.Client
	apiBase    string // apiBaseURL+token normally; overridable in tests
}

// New creates a Telegram bot channel for the given bot token.
func New(token string) *Bot {
	return &Bot{token: token, httpClient: &http.Client{}, apiBase: apiBaseURL + token}
}

func (b *Bot) Name() string { return "telegram" }

// Poll starts long-polling for updates and returns a channel of incoming
// messages. The returned channel is closed when ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) (<-chan turtle.IncomingMessage, error) {
	ch := make(chan turtle.IncomingMessage)
	go b.pollLoop(ctx, ch)
	return ch, nil
}

func (b *Bot) pollLoop(ctx context.Context, ch chan<- turtle.IncomingMessage) {
	defer close(ch)
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("telegram poll error", "error", err)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			msg := mapToIncoming(u.Message)
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	}
	var result []Update
	if err := b.callAPIWithCtx(ctx, "getUpdates", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Send delivers text to chatID, rendered as Telegram HTML, splitting across
// multiple messages if it exceeds the 4096-character limit.
func (b *Bot) Send(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text) {
		html := MarkdownToHTML(chunk)
		body := map[string]any{
			"chat_id":    chatID,
			"text":       html,
			"parse_mode": "HTML",
		}
		if err := b.callAPIWithCtx(ctx, "sendMessage", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendTyping shows a typing indicator in chatID.
func (b *Bot) SendTyping(ctx context.Context, chatID string) error {
	body := map[string]any{"chat_id": chatID, "action": "typing"}
	return b.callAPIWithCtx(ctx, "sendChatAction", body, nil)
}

// callAPIWithCtx posts JSON to a Telegram Bot API method and decodes the result.
func (b *Bot) callAPIWithCtx(ctx context.Context, method string, reqBody any, result any) error {
	url := b.apiBase + "/" + method

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("telegram: decode response: %w (body: %s)", err, string(respBody))
	}

	if !envelope.OK {
		return &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

func mapToIncoming(m *TGMessage) turtle.IncomingMessage {
	msg := turtle.IncomingMessage{
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		Text:   m.Text,
		Source: "telegram",
	}
	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
	}
	return msg
}

// splitMessage splits text into chunks that fit within Telegram's 4096-char limit.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}

		splitAt := remaining[:maxMessageLength]
		splitPos := strings.LastIndex(splitAt, "\n")
		if splitPos == -1 {
			splitPos = maxMessageLength
		} else {
			splitPos++
		}

		chunks = append(chunks, remaining[:splitPos])
		remaining = remaining[splitPos:]
	}

	return chunks
}
