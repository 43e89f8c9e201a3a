// Package permission answers whether the bot can post in a chat and whether
// a user holds admin rank there, delegating the lookups to the Bot API and
// failing closed on any error.
package permission

import (
	"context"
	"log/slog"

	"github.com/veymont/chatinfo/internal/command"
	"github.com/veymont/chatinfo/internal/telegram"
)

// ChatMemberAPI is the narrow slice of the Bot API the gate needs.
type ChatMemberAPI interface {
	GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMember, error)
}

// Gate resolves permission questions against live chat membership. It holds
// no state of its own beyond the bot's identity.
type Gate struct {
	api    ChatMemberAPI
	selfID int64
	logger *slog.Logger
}

// NewGate creates a Gate. selfID is the bot's own user id from getMe.
func NewGate(api ChatMemberAPI, selfID int64, logger *slog.Logger) *Gate {
	return &Gate{api: api, selfID: selfID, logger: logger}
}

// BotCanSend reports whether the bot may post in the given chat. Private
// chats have no membership concept and are always true. Groups and
// supergroups accept plain membership; channels require elevated rights.
// Lookup failures resolve to false — fail closed, never raise.
func (g *Gate) BotCanSend(ctx context.Context, chatID int64, chatType command.ChatType) bool {
	if chatType == command.ChatPrivate {
		return true
	}

	member, err := g.api.GetChatMember(ctx, chatID, g.selfID)
	if err != nil {
		g.logger.Warn("bot permission lookup failed, denying",
			"chat_id", chatID,
			"error", err,
		)
		return false
	}

	switch chatType {
	case command.ChatChannel:
		return member.Status == telegram.StatusAdministrator ||
			member.Status == telegram.StatusCreator
	default:
		switch member.Status {
		case telegram.StatusMember, telegram.StatusAdministrator, telegram.StatusCreator:
			return true
		}
		return false
	}
}

// IsAdmin reports whether the user holds administrator or creator rank in
// the chat. A user is always admin of their own private chat; the lookup is
// not even attempted there. Lookup failures resolve to false.
func (g *Gate) IsAdmin(ctx context.Context, chatID int64, chatType command.ChatType, userID int64) bool {
	if chatType == command.ChatPrivate {
		return true
	}

	member, err := g.api.GetChatMember(ctx, chatID, userID)
	if err != nil {
		g.logger.Warn("admin rank lookup failed, denying",
			"chat_id", chatID,
			"user_id", userID,
			"error", err,
		)
		return false
	}

	return member.Status == telegram.StatusAdministrator ||
		member.Status == telegram.StatusCreator
}
