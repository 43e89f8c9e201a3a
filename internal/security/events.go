// Package security composes the rate limiter, permission gate, and chat-type
// policy into the pipeline stage that guards every command, and records the
// security events those checks produce.
package security

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/veymont/chatinfo/internal/metrics"
)

// EventKind categorizes security events. The set is closed.
type EventKind string

// Every kind of event the security pipeline can emit.
const (
	EventRateLimitExceeded         EventKind = "rate_limit_exceeded"
	EventInvalidChatType           EventKind = "invalid_chat_type"
	EventInsufficientBotPermission EventKind = "insufficient_bot_permission"
	EventAdminPermissionDenied     EventKind = "admin_permission_denied"
	EventCommandAllowed            EventKind = "command_allowed"
	EventMiddlewareError           EventKind = "security_middleware_error"
)

// Event is a single write-once security log record. The core emits events
// and never reads them back.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	ChatID    int64             `json:"chat_id,omitempty"`
	ChatType  string            `json:"chat_type,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Command   string            `json:"command,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives events for durable storage.
type Sink interface {
	Record(Event) error
}

// EventLogConfig configures the event log.
type EventLogConfig struct {
	// Writer is the destination for JSONL output. Nil disables it.
	Writer io.Writer

	// Store, if non-nil, receives every event for durable storage.
	Store Sink

	// Redactor, if non-nil, is applied to Detail and Metadata values.
	Redactor *Redactor

	// OnEvent, if non-nil, is called for every event (used in tests).
	OnEvent func(Event)

	// Now overrides time.Now for testing.
	Now func() time.Time

	Logger *slog.Logger
}

// EventLog writes security events as JSONL and to an optional store, with
// token redaction applied first.
type EventLog struct {
	writer   io.Writer
	store    Sink
	redactor *Redactor
	onEvent  func(Event)
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewEventLog creates an event log with the given configuration.
func NewEventLog(cfg EventLogConfig) *EventLog {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{
		writer:   cfg.Writer,
		store:    cfg.Store,
		redactor: cfg.Redactor,
		onEvent:  cfg.OnEvent,
		now:      now,
		logger:   logger,
	}
}

// Log records an event. The timestamp is set automatically. The caller's
// metadata map is never mutated; a copy is taken before redaction.
func (l *EventLog) Log(event Event) {
	event.Timestamp = l.now()

	if len(event.Metadata) > 0 {
		cp := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			cp[k] = v
		}
		event.Metadata = cp
	}

	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	metrics.SecurityEventsTotal.WithLabelValues(string(event.Kind)).Inc()

	// Dispatch and write under one lock to keep ordering consistent.
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.onEvent != nil {
		l.onEvent(event)
	}

	if l.writer != nil {
		_ = json.NewEncoder(l.writer).Encode(event)
	}

	if l.store != nil {
		if err := l.store.Record(event); err != nil {
			l.logger.Warn("failed to store security event", "kind", event.Kind, "error", err)
		}
	}
}
