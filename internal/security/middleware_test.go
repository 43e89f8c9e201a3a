package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/veymont/chatinfo/internal/command"
	"github.com/veymont/chatinfo/internal/permission"
	"github.com/veymont/chatinfo/internal/ratelimit"
	"github.com/veymont/chatinfo/internal/telegram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memberAPIFunc func(ctx context.Context, chatID, userID int64) (*telegram.ChatMember, error)

func (f memberAPIFunc) GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMember, error) {
	return f(ctx, chatID, userID)
}

func memberWithStatus(status string) memberAPIFunc {
	return func(context.Context, int64, int64) (*telegram.ChatMember, error) {
		return &telegram.ChatMember{Status: status}, nil
	}
}

// testStage bundles a middleware with the hooks the tests observe.
type testStage struct {
	stage  command.Middleware
	events []Event
}

func newTestStage(t *testing.T, cfg Config, api permission.ChatMemberAPI) *testStage {
	t.Helper()
	ts := &testStage{}
	gate := permission.NewGate(api, 1000, testLogger())
	events := NewEventLog(EventLogConfig{
		OnEvent: func(e Event) { ts.events = append(ts.events, e) },
		Logger:  testLogger(),
	})
	m := NewMiddleware(ratelimit.NewLimiter(), gate, events, cfg, testLogger())
	ts.stage = m.Stage()
	return ts
}

func (ts *testStage) kinds() []string {
	out := make([]string, len(ts.events))
	for i, e := range ts.events {
		out[i] = string(e.Kind)
	}
	return out
}

func newSecurityRequest() (*command.Request, *[]string) {
	var sent []string
	return &command.Request{
		ChatID:   -100123,
		ChatType: command.ChatGroup,
		UserID:   42,
		Command:  "chatid",
		Reply: func(_ context.Context, text string) error {
			sent = append(sent, text)
			return nil
		},
		Logger: testLogger(),
	}, &sent
}

func TestMiddleware_AllChecksPass(t *testing.T) {
	t.Parallel()

	ts := newTestStage(t, DefaultConfig(), memberWithStatus(telegram.StatusMember))

	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})

	req, sent := newSecurityRequest()
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("stage returned error: %v", err)
	}
	if !invoked {
		t.Fatal("handler should have run")
	}
	if len(*sent) != 0 {
		t.Fatalf("no replies expected, got %v", *sent)
	}
	if kinds := ts.kinds(); len(kinds) != 1 || kinds[0] != string(EventCommandAllowed) {
		t.Fatalf("events = %v, want [command_allowed]", kinds)
	}
}

func TestMiddleware_RateLimitShortCircuits(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = &ratelimit.Config{MaxRequests: 1, Window: time.Minute, Penalty: time.Minute}
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	calls := 0
	h := ts.stage(func(context.Context, *command.Request) error {
		calls++
		return nil
	})

	req, sent := newSecurityRequest()
	_ = h(context.Background(), req)
	_ = h(context.Background(), req)

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if len(*sent) != 1 || !strings.Contains((*sent)[0], "Try again in") {
		t.Fatalf("want one rate-limit reply with retry hint, got %v", *sent)
	}

	last := ts.events[len(ts.events)-1]
	if last.Kind != EventRateLimitExceeded {
		t.Fatalf("last event = %s, want rate_limit_exceeded", last.Kind)
	}
	if last.Metadata["reason"] != "rate_limit" {
		t.Fatalf("event reason = %q, want rate_limit", last.Metadata["reason"])
	}
	if last.Metadata["retry_after"] == "" {
		t.Fatal("event should carry retry_after metadata")
	}
}

func TestMiddleware_SkipsRateLimitWithoutUserID(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = &ratelimit.Config{MaxRequests: 1, Window: time.Minute}
	cfg.CheckBotPermissions = false
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	calls := 0
	h := ts.stage(func(context.Context, *command.Request) error {
		calls++
		return nil
	})

	req, _ := newSecurityRequest()
	req.UserID = 0
	for range 5 {
		_ = h(context.Background(), req)
	}
	if calls != 5 {
		t.Fatalf("handler ran %d times, want 5 (no user id, no limiting)", calls)
	}
}

func TestMiddleware_ChatTypeRejection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	cfg.AllowedChatTypes = []command.ChatType{command.ChatPrivate}
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})

	req, sent := newSecurityRequest() // group chat
	_ = h(context.Background(), req)

	if invoked {
		t.Fatal("handler must not run in a disallowed chat type")
	}
	if len(*sent) != 1 || !strings.Contains((*sent)[0], "group") {
		t.Fatalf("rejection should name the chat type, got %v", *sent)
	}
	if kinds := ts.kinds(); len(kinds) != 1 || kinds[0] != string(EventInvalidChatType) {
		t.Fatalf("events = %v, want [invalid_chat_type]", kinds)
	}
}

func TestMiddleware_BotPermissionFailsClosed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	api := memberAPIFunc(func(context.Context, int64, int64) (*telegram.ChatMember, error) {
		return nil, errors.New("api unreachable")
	})
	ts := newTestStage(t, cfg, api)

	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})

	req, _ := newSecurityRequest()
	_ = h(context.Background(), req)

	if invoked {
		t.Fatal("handler must not run when the permission lookup fails")
	}
	if kinds := ts.kinds(); len(kinds) != 1 || kinds[0] != string(EventInsufficientBotPermission) {
		t.Fatalf("events = %v, want [insufficient_bot_permission]", kinds)
	}
}

func TestMiddleware_AdminRequirement(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	cfg.RequireAdmin = true

	// Plain member: denied.
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))
	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})
	req, sent := newSecurityRequest()
	_ = h(context.Background(), req)
	if invoked {
		t.Fatal("non-admin must be rejected")
	}
	if len(*sent) != 1 || !strings.Contains((*sent)[0], "administrator") {
		t.Fatalf("want admin rejection reply, got %v", *sent)
	}
	if kinds := ts.kinds(); kinds[len(kinds)-1] != string(EventAdminPermissionDenied) {
		t.Fatalf("events = %v, want admin_permission_denied last", kinds)
	}

	// Administrator: allowed.
	ts = newTestStage(t, cfg, memberWithStatus(telegram.StatusAdministrator))
	invoked = false
	h = ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})
	req, _ = newSecurityRequest()
	_ = h(context.Background(), req)
	if !invoked {
		t.Fatal("administrator should pass")
	}
}

func TestMiddleware_RegistrationAdminFlag(t *testing.T) {
	t.Parallel()

	// Policy does not require admin, but the command's registration does.
	cfg := DefaultConfig()
	cfg.RateLimit = nil
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})
	req, _ := newSecurityRequest()
	req.RequiresAdmin = true
	_ = h(context.Background(), req)

	if invoked {
		t.Fatal("registration-level admin flag must be enforced")
	}
}

func TestMiddleware_SwallowsHandlerError(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	h := ts.stage(func(context.Context, *command.Request) error {
		return errors.New("Forbidden: bot was blocked by the user")
	})

	req, sent := newSecurityRequest()
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("stage must never propagate errors, got %v", err)
	}

	// The user sees the sanitized form, never the raw error.
	var sawSanitized bool
	for _, text := range *sent {
		if strings.Contains(text, "Forbidden") {
			t.Fatalf("raw error leaked to the user: %q", text)
		}
		if strings.Contains(text, "blocked") {
			sawSanitized = true
		}
	}
	if !sawSanitized {
		t.Fatalf("want a sanitized failure reply, got %v", *sent)
	}

	last := ts.events[len(ts.events)-1]
	if last.Kind != EventMiddlewareError {
		t.Fatalf("last event = %s, want security_middleware_error", last.Kind)
	}
}

func TestMiddleware_RecoversPanicFromHandler(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	ts := newTestStage(t, cfg, memberWithStatus(telegram.StatusMember))

	h := ts.stage(func(context.Context, *command.Request) error {
		panic("handler exploded")
	})

	req, _ := newSecurityRequest()
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("stage must absorb panics, got %v", err)
	}

	last := ts.events[len(ts.events)-1]
	if last.Kind != EventMiddlewareError {
		t.Fatalf("last event = %s, want security_middleware_error", last.Kind)
	}
	if !strings.Contains(last.Metadata["error"], "handler exploded") {
		t.Fatalf("event should carry the panic value: %v", last.Metadata)
	}
}

func TestMiddleware_PrivateChatSkipsMembershipLookup(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateLimit = nil
	cfg.RequireAdmin = true
	lookups := 0
	api := memberAPIFunc(func(context.Context, int64, int64) (*telegram.ChatMember, error) {
		lookups++
		return &telegram.ChatMember{Status: telegram.StatusMember}, nil
	})
	ts := newTestStage(t, cfg, api)

	invoked := false
	h := ts.stage(func(context.Context, *command.Request) error {
		invoked = true
		return nil
	})

	req, _ := newSecurityRequest()
	req.ChatType = command.ChatPrivate
	_ = h(context.Background(), req)

	if !invoked {
		t.Fatal("private chat should pass both permission checks")
	}
	if lookups != 0 {
		t.Fatalf("private chat triggered %d membership lookups, want 0", lookups)
	}
}
