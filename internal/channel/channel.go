// Package channel defines the uniform contract every chat front-end
// (Telegram, Discord) implements, spec.md §4.J / §6.
package channel

import (
	"context"

	turtle "github.com/sea-turtle/sea-turtle"
)

// Channel is one chat front-end: it polls for incoming messages and sends
// replies back. Mirrors original_source/sea_turtle/channels/base.py's
// BaseChannel, collapsed to the subset the daemon actually drives (no
// per-message editing/typing-indicator surface — those are channel-specific
// niceties the daemon doesn't need to orchestrate).
type Channel interface {
	// Poll starts listening for incoming messages and returns a channel of
	// them. The returned channel is closed when ctx is cancelled.
	Poll(ctx context.Context) (<-chan turtle.IncomingMessage, error)
	// Send delivers text to chatID.
	Send(ctx context.Context, chatID, text string) error
	// Name identifies the channel ("telegram", "discord"), used as
	// IncomingMessage.Source and for routing replies back to the right adapter.
	Name() string
}

// IsUserAllowed reports whether userID may use a channel whose allowlist is
// allowed. An empty allowlist means "allow all", matching
// original_source/sea_turtle/channels/base.py's _is_user_allowed.
func IsUserAllowed(allowed []string, userID string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == userID {
			return true
		}
	}
	return false
}
