package security

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/veymont/chatinfo/internal/command"
	"github.com/veymont/chatinfo/internal/metrics"
	"github.com/veymont/chatinfo/internal/permission"
	"github.com/veymont/chatinfo/internal/ratelimit"
)

// Config is the declarative policy bundle for one security stage. Callers
// start from DefaultConfig and override fields.
type Config struct {
	// RateLimit enables rate limiting when non-nil.
	RateLimit *ratelimit.Config

	// ValidateChatTypes rejects chats whose type is not in AllowedChatTypes.
	ValidateChatTypes bool
	AllowedChatTypes  []command.ChatType

	// CheckBotPermissions verifies the bot can post before running the handler.
	CheckBotPermissions bool

	// RequireAdmin restricts the command to chat administrators.
	RequireAdmin bool

	// LogEvents emits security events for every decision.
	LogEvents bool
}

// DefaultConfig is the policy installed on the router's built-in stage:
// 10 requests per minute with a 5-minute progressive penalty, chat-type and
// bot-permission checks on, admin not required.
func DefaultConfig() Config {
	return Config{
		RateLimit: &ratelimit.Config{
			MaxRequests: 10,
			Window:      time.Minute,
			Penalty:     5 * time.Minute,
			Progressive: true,
		},
		ValidateChatTypes: true,
		AllowedChatTypes: []command.ChatType{
			command.ChatPrivate, command.ChatGroup,
			command.ChatSupergroup, command.ChatChannel,
		},
		CheckBotPermissions: true,
		RequireAdmin:        false,
		LogEvents:           true,
	}
}

// Middleware composes the rate limiter, permission gate, and chat-type
// policy into one ordered pipeline stage. Checks run in fixed order and
// short-circuit with a user-visible reply at the first failure; nothing
// that goes wrong inside the stage ever propagates past it.
type Middleware struct {
	limiter *ratelimit.Limiter
	gate    *permission.Gate
	events  *EventLog
	cfg     Config
	logger  *slog.Logger
}

// NewMiddleware creates a security stage with the given policy.
func NewMiddleware(limiter *ratelimit.Limiter, gate *permission.Gate, events *EventLog, cfg Config, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		gate:    gate,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

// Stage returns the command.Middleware for this policy.
func (m *Middleware) Stage() command.Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, req *command.Request) error {
			defer func() {
				if rec := recover(); rec != nil {
					m.fail(ctx, req, fmt.Errorf("panic: %v", rec))
				}
			}()

			if err := m.run(ctx, req, next); err != nil {
				m.fail(ctx, req, err)
			}
			// Errors are fully handled here; the router backstop never
			// fires for anything inside this stage or below it.
			return nil
		}
	}
}

// run executes the ordered checks. A policy rejection replies and returns
// nil; only unexpected failures come back as errors.
func (m *Middleware) run(ctx context.Context, req *command.Request, next command.HandlerFunc) error {
	// 1. Rate limit. No sender id means nothing to key on; skip.
	if m.cfg.RateLimit != nil && req.UserID != 0 {
		res := m.limiter.Check(req.UserID, req.ChatID, *m.cfg.RateLimit)
		if res.Limited {
			metrics.RejectionsTotal.WithLabelValues(string(res.Reason)).Inc()
			req.SendQuiet(ctx, limitedMessage(res))
			m.emit(req, EventRateLimitExceeded, map[string]string{
				"reason":      string(res.Reason),
				"retry_after": strconv.Itoa(res.RetryAfterSeconds),
			})
			return nil
		}
	}

	// 2. Chat type.
	if m.cfg.ValidateChatTypes && !slices.Contains(m.cfg.AllowedChatTypes, req.ChatType) {
		metrics.RejectionsTotal.WithLabelValues("chat_type").Inc()
		req.SendQuiet(ctx, chatTypeMessage(req.ChatType, m.cfg.AllowedChatTypes))
		m.emit(req, EventInvalidChatType, nil)
		return nil
	}

	// 3. Bot permission.
	if m.cfg.CheckBotPermissions && !m.gate.BotCanSend(ctx, req.ChatID, req.ChatType) {
		metrics.RejectionsTotal.WithLabelValues("bot_permission").Inc()
		// The reply will likely fail too; SendQuiet only logs that.
		req.SendQuiet(ctx, botPermissionMessage(req.ChatType))
		m.emit(req, EventInsufficientBotPermission, nil)
		return nil
	}

	// 4. Admin requirement, from policy or the command's own registration.
	// Absent sender id passes through.
	if (m.cfg.RequireAdmin || req.RequiresAdmin) && req.UserID != 0 &&
		!m.gate.IsAdmin(ctx, req.ChatID, req.ChatType, req.UserID) {
		metrics.RejectionsTotal.WithLabelValues("admin").Inc()
		req.SendQuiet(ctx, "This command requires chat administrator rights.")
		m.emit(req, EventAdminPermissionDenied, nil)
		return nil
	}

	// 5. All checks passed.
	if m.cfg.LogEvents {
		m.emit(req, EventCommandAllowed, nil)
	}
	return next(ctx, req)
}

// fail handles anything unexpected: log with full context, tell the user a
// sanitized version, record the event. Never re-raises.
func (m *Middleware) fail(ctx context.Context, req *command.Request, err error) {
	m.logger.Error("security middleware error",
		"command", req.Command,
		"chat_id", req.ChatID,
		"chat_type", req.ChatType,
		"user_id", req.UserID,
		"error", err,
	)
	req.SendQuiet(ctx, m.gate.SanitizeError(err))
	if m.cfg.LogEvents {
		m.emit(req, EventMiddlewareError, map[string]string{"error": err.Error()})
	}
}

func (m *Middleware) emit(req *command.Request, kind EventKind, metadata map[string]string) {
	if m.events == nil || !m.cfg.LogEvents {
		return
	}
	m.events.Log(Event{
		Kind:     kind,
		ChatID:   req.ChatID,
		ChatType: string(req.ChatType),
		UserID:   req.UserID,
		Username: req.Username,
		Command:  req.Command,
		Metadata: metadata,
	})
}

func limitedMessage(res ratelimit.Result) string {
	switch res.Reason {
	case ratelimit.ReasonPenalty:
		return fmt.Sprintf("You're temporarily blocked for repeated abuse. Try again in %d seconds.", res.RetryAfterSeconds)
	case ratelimit.ReasonChatLimit:
		return fmt.Sprintf("This chat is sending too many requests. Try again in %d seconds.", res.RetryAfterSeconds)
	default:
		return fmt.Sprintf("Rate limit reached. Try again in %d seconds.", res.RetryAfterSeconds)
	}
}

func chatTypeMessage(current command.ChatType, allowed []command.ChatType) string {
	labels := make([]string, len(allowed))
	for i, t := range allowed {
		labels[i] = t.Label()
	}
	return fmt.Sprintf("This command can't be used in a %s. Allowed: %s.",
		current.Label(), strings.Join(labels, ", "))
}

func botPermissionMessage(t command.ChatType) string {
	switch t {
	case command.ChatGroup, command.ChatSupergroup:
		return "I don't have permission to send messages in this group. Ask an admin to grant me send rights."
	case command.ChatChannel:
		return "I need to be an administrator to post in this channel."
	default:
		return "I don't have permission to reply in this chat."
	}
}
