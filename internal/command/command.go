// Package command implements slash-command parsing, registration, and the
// middleware pipeline that wraps every dispatch.
package command

import (
	"context"
	"log/slog"
	"time"
)

// ChatType is a Telegram chat type as carried on inbound messages.
type ChatType string

// The four chat types the Bot API distinguishes.
const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Label returns the human-readable label used in user-facing messages.
func (t ChatType) Label() string {
	switch t {
	case ChatPrivate:
		return "private chat"
	case ChatGroup:
		return "group"
	case ChatSupergroup:
		return "supergroup"
	case ChatChannel:
		return "channel"
	default:
		return string(t)
	}
}

// Request carries one inbound command invocation through the pipeline.
// Command and Args are populated by the router after parsing.
type Request struct {
	ChatID       int64
	ChatType     ChatType
	ChatTitle    string
	ChatUsername string

	// UserID is zero when the platform omitted the sender (e.g. channel
	// posts). Checks that need a user id treat its absence as pass-through.
	UserID    int64
	Username  string
	FirstName string
	LastName  string

	MessageID int
	Text      string
	Command   string
	Args      string
	Received  time.Time

	// RequiresAdmin mirrors the resolved registration's flag so downstream
	// stages can enforce it. Set by the router after lookup.
	RequiresAdmin bool

	// Reply sends a plain-text reply into the originating chat. May be nil
	// in tests; Send guards against that.
	Reply func(ctx context.Context, text string) error

	Logger *slog.Logger
}

// Send replies in the originating chat. Nil-safe for Reply and Logger.
func (r *Request) Send(ctx context.Context, text string) error {
	if r.Reply == nil {
		return nil
	}
	return r.Reply(ctx, text)
}

// SendQuiet replies and only logs on failure. Used for rejection messages,
// where a failed send (e.g. the bot truly is blocked) must never unwind.
func (r *Request) SendQuiet(ctx context.Context, text string) {
	if err := r.Send(ctx, text); err != nil && r.Logger != nil {
		r.Logger.Warn("failed to send reply",
			"chat_id", r.ChatID,
			"error", err,
		)
	}
}

// HandlerFunc is the terminal action for a command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. A stage short-circuits by not calling next;
// the router injects no reply in that case.
type Middleware func(next HandlerFunc) HandlerFunc
