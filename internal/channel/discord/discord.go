// Package discord implements channel.Channel against Discord using
// bwmarrin/discordgo, grounded on
// _examples/original_source/sea_turtle/channels/discord.py's DiscordChannel
// (one gateway session per distinct bot token, forwarding non-command
// messages and leaving /-prefixed commands to the daemon).
package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	turtle "github.com/sea-turtle/sea-turtle"
)

const maxMessageLength = 2000

// Bot implements channel.Channel for a single Discord application token.
type Bot struct {
	session *discordgo.Session
	token   string
}

// New creates a Discord channel for the given bot token. The underlying
// gateway session is not opened until Poll is called.
func New(token string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return &Bot{session: session, token: token}, nil
}

func (b *Bot) Name() string { return "discord" }

// Poll opens the gateway connection and returns a channel of incoming
// messages. The returned channel is closed when ctx is cancelled, at which
// point the session is closed.
func (b *Bot) Poll(ctx context.Context) (<-chan turtle.IncomingMessage, error) {
	ch := make(chan turtle.IncomingMessage)

	b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if m.Content == "" {
			return
		}
		msg := turtle.IncomingMessage{
			Text:   m.Content,
			ChatID: m.ChannelID,
			UserID: m.Author.ID,
			Source: "discord",
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})

	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord bot connected", "user", r.User.String())
	})

	if err := b.session.Open(); err != nil {
		close(ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		b.session.Close()
		close(ch)
	}()

	return ch, nil
}

// Send delivers text to chatID (a channel ID), splitting across multiple
// messages if it exceeds Discord's 2000-character limit.
func (b *Bot) Send(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text) {
		if _, err := b.session.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxMessageLength {
			chunks = append(chunks, text)
			break
		}
		chunks = append(chunks, text[:maxMessageLength])
		text = text[maxMessageLength:]
	}
	return chunks
}
