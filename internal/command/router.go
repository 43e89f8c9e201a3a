package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/veymont/chatinfo/internal/metrics"
)

// commandPattern matches a leading slash command with an optional bot
// mention: "/chatid@somebot extra words" yields "chatid".
var commandPattern = regexp.MustCompile(`^/(\w+)(?:@\w+)?`)

var tracer = otel.Tracer("github.com/veymont/chatinfo/internal/command")

// ErrorContext is the structured context handed to the error reporter when a
// route fails.
type ErrorContext struct {
	Command  string
	ChatID   int64
	UserID   int64
	ChatType ChatType
	Time     time.Time
}

// ErrorReporter receives every error that escapes a handler or middleware.
// It is invoked exactly once per failed route and is expected to log the
// error and send a sanitized user-facing message.
type ErrorReporter func(ctx context.Context, req *Request, err error, ec ErrorContext)

// RouterConfig configures a Router.
type RouterConfig struct {
	Registry    *Registry
	Middlewares []Middleware
	// Unknown handles command tokens with no registration, typically by
	// delegating to the help text. The unrecognized token is in req.Command.
	Unknown     HandlerFunc
	ReportError ErrorReporter
	Logger      *slog.Logger
}

// Router is the top-level dispatcher: it parses a command out of inbound
// text, resolves the registration, runs the middleware chain, and invokes
// the handler. Nothing raised by a handler or middleware escapes Route.
type Router struct {
	registry    *Registry
	middlewares []Middleware
	unknown     HandlerFunc
	reportError ErrorReporter
	logger      *slog.Logger
}

// NewRouter creates a Router. Registry and Logger are required; the other
// fields default to no-ops.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		registry:    cfg.Registry,
		middlewares: cfg.Middlewares,
		unknown:     cfg.Unknown,
		reportError: cfg.ReportError,
		logger:      cfg.Logger,
	}
	if r.unknown == nil {
		r.unknown = func(context.Context, *Request) error { return nil }
	}
	if r.reportError == nil {
		r.reportError = func(_ context.Context, _ *Request, err error, ec ErrorContext) {
			r.logger.Error("unhandled route error", "command", ec.Command, "error", err)
		}
	}
	return r
}

// Use appends middleware stages. Stages run in the order added, after any
// stages supplied at construction.
func (r *Router) Use(mw ...Middleware) {
	r.middlewares = append(r.middlewares, mw...)
}

// Route dispatches one inbound message. Text that is not a command produces
// no reply at all. Errors and panics from the chain are reported exactly
// once and never propagate.
func (r *Router) Route(ctx context.Context, req *Request) {
	if req.Logger == nil {
		req.Logger = r.logger
	}

	m := commandPattern.FindStringSubmatch(req.Text)
	if m == nil {
		return
	}
	req.Command = strings.ToLower(m[1])
	req.Args = strings.TrimSpace(req.Text[len(m[0]):])

	ctx, span := tracer.Start(ctx, "command.route", trace.WithAttributes(
		attribute.String("command", req.Command),
		attribute.Int64("chat.id", req.ChatID),
		attribute.String("chat.type", string(req.ChatType)),
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			span.SetStatus(codes.Error, err.Error())
			r.report(ctx, req, err)
		}
	}()

	reg, ok := r.registry.Lookup(req.Command)
	if !ok {
		metrics.UnknownCommandsTotal.Inc()
		if err := r.unknown(ctx, req); err != nil {
			r.report(ctx, req, err)
		}
		return
	}

	// Registration-level chat-type restriction, checked before the
	// middleware chain runs.
	if !reg.AllowsChatType(req.ChatType) {
		metrics.RejectionsTotal.WithLabelValues("chat_type").Inc()
		req.SendQuiet(ctx, chatTypeMessage(req.ChatType, reg.AllowedChatTypes))
		return
	}

	req.RequiresAdmin = reg.RequiresAdmin

	metrics.CommandsTotal.WithLabelValues(reg.Name).Inc()
	start := time.Now()

	h := reg.Handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	err := h(ctx, req)
	metrics.CommandDuration.WithLabelValues(reg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues(reg.Name).Inc()
		span.SetStatus(codes.Error, err.Error())
		r.report(ctx, req, err)
	}
}

func (r *Router) report(ctx context.Context, req *Request, err error) {
	r.reportError(ctx, req, err, ErrorContext{
		Command:  req.Command,
		ChatID:   req.ChatID,
		UserID:   req.UserID,
		ChatType: req.ChatType,
		Time:     time.Now(),
	})
}

// chatTypeMessage names the current (disallowed) chat type and the allowed set.
func chatTypeMessage(current ChatType, allowed []ChatType) string {
	labels := make([]string, len(allowed))
	for i, t := range allowed {
		labels[i] = t.Label()
	}
	return fmt.Sprintf("This command is not available in a %s. It works in: %s.",
		current.Label(), strings.Join(labels, ", "))
}
