// Package bot assembles the chatinfo bot: Telegram transport, command
// router, security pipeline, maintenance jobs, and the ops server.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/veymont/chatinfo/internal/command"
	"github.com/veymont/chatinfo/internal/config"
	"github.com/veymont/chatinfo/internal/cron"
	"github.com/veymont/chatinfo/internal/handlers"
	"github.com/veymont/chatinfo/internal/ops"
	"github.com/veymont/chatinfo/internal/permission"
	"github.com/veymont/chatinfo/internal/ratelimit"
	"github.com/veymont/chatinfo/internal/security"
	"github.com/veymont/chatinfo/internal/telegram"
	"github.com/veymont/chatinfo/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

// Bot owns every long-lived component and their lifecycle.
type Bot struct {
	cfg      *config.Config
	logger   *slog.Logger
	redactor *security.Redactor

	client    *telegram.Client
	limiter   *ratelimit.Limiter
	gate      *permission.Gate
	router    *command.Router
	events    *security.EventLog
	store     *security.Store
	eventFile *os.File
	scheduler *cron.Scheduler
	opsServer *ops.Server
	poller    *telegram.Poller

	shutdownTracing func(context.Context) error
	botUser         *telegram.User
}

// New creates a Bot from validated configuration. Network work happens in
// Start, not here. The logger is wrapped so the bot token can never reach
// log output, whatever the call site.
func New(cfg *config.Config, logger *slog.Logger) *Bot {
	redactor := security.NewRedactor()
	redactor.AddLiteral(cfg.Telegram.Token)

	return &Bot{
		cfg:      cfg,
		logger:   slog.New(security.NewRedactingHandler(logger.Handler(), redactor)),
		redactor: redactor,
		client:   telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL),
		limiter:  ratelimit.NewLimiter(),
	}
}

// Start authenticates the bot, wires the router and security pipeline, and
// begins receiving updates in the configured mode.
func (b *Bot) Start(ctx context.Context) error {
	if b.cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(ctx, "chatinfo", b.cfg.Tracing.Endpoint, b.cfg.Tracing.Insecure)
		if err != nil {
			return err
		}
		b.shutdownTracing = shutdown
	}

	user, err := b.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot: getMe failed (check token): %w", err)
	}
	b.botUser = user
	b.logger.Info("bot authenticated", "id", user.ID, "username", user.Username)

	b.gate = permission.NewGate(b.client, user.ID, b.logger)

	if err := b.buildEventLog(); err != nil {
		return err
	}

	registry := command.NewRegistry()
	if err := handlers.RegisterBuiltins(registry); err != nil {
		return err
	}
	if err := b.registerStats(registry); err != nil {
		return err
	}

	secStage := security.NewMiddleware(
		b.limiter, b.gate, b.events,
		resolveSecurityConfig(b.cfg.Security),
		b.logger,
	)

	help := handlers.NewHelp(registry)
	b.router = command.NewRouter(command.RouterConfig{
		Registry: registry,
		// The security stage always runs first; further stages follow it.
		Middlewares: []command.Middleware{
			secStage.Stage(),
			command.Logging(b.logger),
		},
		Unknown:     help.UnknownHandler(),
		ReportError: b.reportError,
		Logger:      b.logger,
	})

	switch b.cfg.Telegram.Mode {
	case "polling":
		b.poller = telegram.NewPoller(b.client, b.handleUpdate, b.logger, b.cfg.Telegram.PollingTimeout)
		b.poller.Start()
		b.logger.Info("polling started", "timeout", b.cfg.Telegram.PollingTimeout)
	case "webhook":
		if b.cfg.Telegram.WebhookSecret == "" {
			b.logger.Warn("webhook running without a secret token")
		}
		if err := b.client.SetWebhook(ctx, telegram.SetWebhookRequest{
			URL:            b.cfg.Telegram.WebhookURL,
			SecretToken:    b.cfg.Telegram.WebhookSecret,
			AllowedUpdates: []string{"message", "edited_message", "channel_post"},
		}); err != nil {
			return fmt.Errorf("bot: setWebhook failed: %w", err)
		}
		b.logger.Info("webhook configured", "url", b.cfg.Telegram.WebhookURL)
	}

	b.scheduler = cron.NewScheduler(b.logger)
	if err := b.scheduler.Register(ratelimit.NewSweepJob(b.limiter, b.logger)); err != nil {
		return err
	}
	if err := b.scheduler.Start(); err != nil {
		return err
	}

	if b.cfg.Ops.Listen != "" {
		deps := ops.Deps{Limiter: b.limiter, Events: b.store}
		if b.cfg.Telegram.Mode == "webhook" {
			deps.Webhook = telegram.NewWebhookReceiver(b.handleUpdate, b.logger, b.cfg.Telegram.WebhookSecret)
		}
		b.opsServer = ops.NewServer(b.cfg.Ops.Listen, deps, b.logger)
		b.opsServer.Start()
	}

	return nil
}

// Run starts the bot and blocks until ctx is cancelled, then shuts down.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return b.Stop()
}

// Stop shuts everything down, letting in-flight handlers finish within a
// grace timeout.
func (b *Bot) Stop() error {
	b.logger.Info("bot stopping")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if b.poller != nil {
		b.poller.Stop()
	}
	if b.cfg.Telegram.Mode == "webhook" {
		if err := b.client.DeleteWebhook(ctx); err != nil {
			b.logger.Warn("failed to delete webhook on shutdown", "error", err)
		}
	}
	if b.scheduler != nil {
		_ = b.scheduler.Stop(ctx)
	}
	if b.opsServer != nil {
		if err := b.opsServer.Stop(ctx); err != nil {
			b.logger.Warn("ops server shutdown failed", "error", err)
		}
	}
	if b.store != nil {
		_ = b.store.Close()
	}
	if b.eventFile != nil {
		_ = b.eventFile.Close()
	}
	if b.shutdownTracing != nil {
		_ = b.shutdownTracing(ctx)
	}
	return nil
}

// buildEventLog assembles the security event sinks from configuration.
func (b *Bot) buildEventLog() error {
	logCfg := security.EventLogConfig{
		Redactor: b.redactor,
		Logger:   b.logger,
	}

	if path := b.cfg.Events.Path; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("bot: open event log %s: %w", path, err)
		}
		b.eventFile = f
		logCfg.Writer = f
	}

	if path := b.cfg.Events.DBPath; path != "" {
		store, err := security.OpenStore(path)
		if err != nil {
			return err
		}
		b.store = store
		logCfg.Store = store
	}

	b.events = security.NewEventLog(logCfg)
	return nil
}

// registerStats adds the /stats command. When an admin allow-list is
// configured it gates the handler; otherwise chat-admin rank is required.
func (b *Bot) registerStats(registry *command.Registry) error {
	handler := b.statsHandler
	reg := command.Registration{
		Name:        "stats",
		Description: "rate limiter statistics (admins only)",
		Handler:     handler,
	}
	if len(b.cfg.Admins) > 0 {
		reg.Handler = command.AdminAllowlist(b.cfg.Admins...)(handler)
	} else {
		reg.RequiresAdmin = true
	}
	return registry.Register(reg)
}

func (b *Bot) statsHandler(ctx context.Context, req *command.Request) error {
	s := b.limiter.Stats()
	return req.Send(ctx, fmt.Sprintf(
		"Rate limiter:\nTracked users: %d\nTracked chats: %d\nUnder penalty: %d\nIn window: %d",
		s.TrackedUsers, s.TrackedChats, s.UsersUnderPenalty, s.UsersInWindow,
	))
}

// handleUpdate converts a Telegram update into a command request and routes
// it. Non-text updates are dropped here.
func (b *Bot) handleUpdate(update *telegram.Update) {
	msg := update.Msg()
	if msg == nil || msg.Text == "" {
		return
	}

	req := &command.Request{
		ChatID:       msg.Chat.ID,
		ChatType:     command.ChatType(msg.Chat.Type),
		ChatTitle:    msg.Chat.Title,
		ChatUsername: msg.Chat.Username,
		MessageID:    msg.MessageID,
		Text:         msg.Text,
		Received:     time.Unix(int64(msg.Date), 0),
		Logger:       b.logger,
	}
	if msg.From != nil {
		req.UserID = msg.From.ID
		req.Username = msg.From.Username
		req.FirstName = msg.From.FirstName
		req.LastName = msg.From.LastName
	}

	chatID := msg.Chat.ID
	replyTo := msg.MessageID
	threadID := msg.MessageThreadID
	req.Reply = func(ctx context.Context, text string) error {
		_, err := b.client.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID:           chatID,
			Text:             text,
			ReplyToMessageID: replyTo,
			MessageThreadID:  threadID,
		})
		return err
	}

	b.router.Route(context.Background(), req)
}

// reportError is the router's single backstop: log with full context, send
// the user a sanitized message.
func (b *Bot) reportError(ctx context.Context, req *command.Request, err error, ec command.ErrorContext) {
	b.logger.Error("command route failed",
		"command", ec.Command,
		"chat_id", ec.ChatID,
		"chat_type", ec.ChatType,
		"user_id", ec.UserID,
		"error", err,
	)
	req.SendQuiet(ctx, b.gate.SanitizeError(err))
}

// resolveSecurityConfig merges explicit YAML overrides over the package
// defaults. Pointer fields distinguish unset from false.
func resolveSecurityConfig(sc config.SecurityConfig) security.Config {
	cfg := security.DefaultConfig()

	rl := sc.RateLimit
	if rl.Enabled != nil && !*rl.Enabled {
		cfg.RateLimit = nil
	} else {
		if rl.MaxRequests > 0 {
			cfg.RateLimit.MaxRequests = rl.MaxRequests
		}
		if rl.Window > 0 {
			cfg.RateLimit.Window = rl.Window
		}
		if rl.Penalty > 0 {
			cfg.RateLimit.Penalty = rl.Penalty
		}
		if rl.Progressive != nil {
			cfg.RateLimit.Progressive = *rl.Progressive
		}
	}

	if sc.ValidateChatTypes != nil {
		cfg.ValidateChatTypes = *sc.ValidateChatTypes
	}
	if len(sc.AllowedChatTypes) > 0 {
		types := make([]command.ChatType, 0, len(sc.AllowedChatTypes))
		for _, t := range sc.AllowedChatTypes {
			types = append(types, command.ChatType(strings.ToLower(t)))
		}
		cfg.AllowedChatTypes = types
	}
	if sc.CheckBotPermissions != nil {
		cfg.CheckBotPermissions = *sc.CheckBotPermissions
	}
	cfg.RequireAdmin = sc.RequireAdmin
	if sc.LogEvents != nil {
		cfg.LogEvents = *sc.LogEvents
	}

	return cfg
}
