// Package handlers implements the bot's built-in commands and the help text
// they share.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/veymont/chatinfo/internal/command"
)

// Help supplies the prose for /help, /start, and unknown-command replies.
// The router never generates that text itself.
type Help struct {
	registry *command.Registry
}

// NewHelp creates the help collaborator over a registry.
func NewHelp(registry *command.Registry) *Help {
	return &Help{registry: registry}
}

// Text lists every registered command with its description.
func (h *Help) Text() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, reg := range h.registry.List() {
		b.WriteString("/" + reg.Name)
		if len(reg.Aliases) > 0 {
			b.WriteString(" (/" + strings.Join(reg.Aliases, ", /") + ")")
		}
		if reg.Description != "" {
			b.WriteString(" — " + reg.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Welcome is the /start greeting.
func (h *Help) Welcome() string {
	return "Hi! I tell you about the chat I'm in.\n\n" + h.Text()
}

// Unknown builds the reply for an unrecognized command token.
func (h *Help) Unknown(token string) string {
	return fmt.Sprintf("Unknown command /%s. Send /help to see what I can do.", token)
}

// UnknownHandler adapts Unknown to the router's fallback slot.
func (h *Help) UnknownHandler() command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) error {
		return req.Send(ctx, h.Unknown(req.Command))
	}
}

// RegisterBuiltins registers chatid, info, help, and start. All chat types
// are allowed and none require admin rank.
func RegisterBuiltins(registry *command.Registry) error {
	help := NewHelp(registry)

	regs := []command.Registration{
		{
			Name:        "chatid",
			Aliases:     []string{"id"},
			Description: "show the id of this chat",
			Handler:     chatID,
		},
		{
			Name:        "info",
			Description: "show details about this chat",
			Handler:     chatInfo,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "list available commands",
			Handler: func(ctx context.Context, req *command.Request) error {
				return req.Send(ctx, help.Text())
			},
		},
		{
			Name:        "start",
			Description: "introduction and command list",
			Handler: func(ctx context.Context, req *command.Request) error {
				return req.Send(ctx, help.Welcome())
			},
		},
	}

	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// chatID replies with the chat id, plus the sender's id when known.
func chatID(ctx context.Context, req *command.Request) error {
	text := fmt.Sprintf("Chat ID: %d", req.ChatID)
	if req.UserID != 0 {
		text += fmt.Sprintf("\nYour ID: %d", req.UserID)
	}
	return req.Send(ctx, text)
}

// chatInfo replies with everything the inbound message tells us about the chat.
func chatInfo(ctx context.Context, req *command.Request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat ID: %d\nType: %s", req.ChatID, req.ChatType.Label())
	if req.ChatTitle != "" {
		fmt.Fprintf(&b, "\nTitle: %s", req.ChatTitle)
	}
	if req.ChatUsername != "" {
		fmt.Fprintf(&b, "\nUsername: @%s", req.ChatUsername)
	}
	if req.UserID != 0 {
		fmt.Fprintf(&b, "\n\nYour ID: %d", req.UserID)
		if req.Username != "" {
			fmt.Fprintf(&b, "\nYour username: @%s", req.Username)
		}
	}
	return req.Send(ctx, b.String())
}
