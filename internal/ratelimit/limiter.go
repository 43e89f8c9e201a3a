// Package ratelimit implements the per-user and per-chat request limiter
// that guards command dispatch. Counters live in fixed time windows; repeat
// offenders receive escalating penalties. State is purely in-process and
// resets on restart.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Reason identifies why a request was limited.
type Reason string

const (
	// ReasonPenalty means the user is serving an active penalty block.
	ReasonPenalty Reason = "penalty"
	// ReasonRateLimit means the user exhausted their per-window allowance.
	ReasonRateLimit Reason = "rate_limit"
	// ReasonChatLimit means the chat as a whole exhausted its allowance.
	ReasonChatLimit Reason = "chat_limit"
)

// chatLimitFactor scales the per-user allowance up to the whole-chat
// allowance: a chat tolerates 5x what a single user does per window.
const chatLimitFactor = 5

// maxPenaltyMultiplier caps progressive penalty escalation.
const maxPenaltyMultiplier = 5

// Config holds the limits applied by a single Check call.
type Config struct {
	// MaxRequests is the per-user allowance within one window. Must be >= 1.
	MaxRequests int `yaml:"max_requests"`
	// Window is the fixed counting window length. Must be > 0.
	Window time.Duration `yaml:"window"`
	// Penalty, when > 0, arms a hard block after a rate_limit violation.
	Penalty time.Duration `yaml:"penalty"`
	// Progressive scales the penalty by the subject's strike count (capped).
	Progressive bool `yaml:"progressive"`
}

// Result is the outcome of a Check call.
type Result struct {
	Limited bool
	// RetryAfterSeconds is the ceiling of the time until the relevant window
	// or penalty expires. Zero when the request was allowed.
	RetryAfterSeconds int
	Reason            Reason
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	TrackedUsers      int `json:"tracked_users"`
	TrackedChats      int `json:"tracked_chats"`
	UsersUnderPenalty int `json:"users_under_penalty"`
	UsersInWindow     int `json:"users_in_window"`
}

// entry tracks one subject (user or chat). count is only meaningful while
// now is before windowResetAt; an expired window resets lazily on next check.
type entry struct {
	count         int
	windowResetAt time.Time
	penaltyUntil  time.Time // zero = no penalty
	strikes       int
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.windowResetAt) && !now.Before(e.penaltyUntil)
}

// Limiter tracks request counts per user and per chat. All methods are safe
// for concurrent use; the two maps are the only shared mutable state in the
// bot and are guarded by a single mutex.
type Limiter struct {
	mu    sync.Mutex
	users map[int64]*entry
	chats map[int64]*entry
	now   func() time.Time
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		users: make(map[int64]*entry),
		chats: make(map[int64]*entry),
		now:   time.Now,
	}
}

// Check decides whether a request from userID (in chatID, when non-zero) is
// allowed right now, and records it if so. Checks short-circuit in order:
// active penalty, user window, chat window. A chatID of zero disables
// chat-level limiting.
func (l *Limiter) Check(userID, chatID int64, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	user := l.users[userID]
	if user == nil {
		user = &entry{windowResetAt: now.Add(cfg.Window)}
		l.users[userID] = user
	}

	// Active penalty blocks regardless of window state.
	if now.Before(user.penaltyUntil) {
		return Result{
			Limited:           true,
			RetryAfterSeconds: ceilSeconds(user.penaltyUntil.Sub(now)),
			Reason:            ReasonPenalty,
		}
	}

	resetIfExpired(user, now, cfg.Window)

	if user.count >= cfg.MaxRequests {
		res := Result{
			Limited:           true,
			RetryAfterSeconds: ceilSeconds(user.windowResetAt.Sub(now)),
			Reason:            ReasonRateLimit,
		}
		if cfg.Penalty > 0 {
			user.strikes++
			mult := 1
			if cfg.Progressive {
				mult = min(user.strikes, maxPenaltyMultiplier)
			}
			user.penaltyUntil = now.Add(cfg.Penalty * time.Duration(mult))
		}
		return res
	}

	var chat *entry
	if chatID != 0 {
		chat = l.chats[chatID]
		if chat == nil {
			chat = &entry{windowResetAt: now.Add(cfg.Window)}
			l.chats[chatID] = chat
		}
		resetIfExpired(chat, now, cfg.Window)

		if chat.count >= chatLimitFactor*cfg.MaxRequests {
			return Result{
				Limited:           true,
				RetryAfterSeconds: ceilSeconds(chat.windowResetAt.Sub(now)),
				Reason:            ReasonChatLimit,
			}
		}
	}

	user.count++
	if chat != nil {
		chat.count++
	}
	return Result{}
}

// ClearUser removes all tracking state for a user, lifting any active penalty.
func (l *Limiter) ClearUser(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
}

// ClearChat removes all tracking state for a chat.
func (l *Limiter) ClearChat(chatID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.chats, chatID)
}

// Sweep removes entries whose window and penalty have both expired, bounding
// memory growth. It runs from a periodic job, never on the request path.
// Returns the number of entries removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, e := range l.users {
		if e.expired(now) {
			delete(l.users, id)
			removed++
		}
	}
	for id, e := range l.chats {
		if e.expired(now) {
			delete(l.chats, id)
			removed++
		}
	}
	return removed
}

// Stats returns a point-in-time snapshot of tracked state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := Stats{
		TrackedUsers: len(l.users),
		TrackedChats: len(l.chats),
	}
	for _, e := range l.users {
		if now.Before(e.penaltyUntil) {
			s.UsersUnderPenalty++
		}
		if now.Before(e.windowResetAt) {
			s.UsersInWindow++
		}
	}
	return s
}

// resetIfExpired applies the lazy window reset.
func resetIfExpired(e *entry, now time.Time, window time.Duration) {
	if !now.Before(e.windowResetAt) {
		e.count = 0
		e.windowResetAt = now.Add(window)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
