package ratelimit

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxRequests: 10,
		Window:      60 * time.Second,
		Penalty:     300 * time.Second,
		Progressive: true,
	}
}

// fixedClock installs a controllable clock and returns a setter.
func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	cfg := Config{MaxRequests: 3, Window: time.Minute}

	for i := range 3 {
		if res := l.Check(1, 0, cfg); res.Limited {
			t.Fatalf("request %d unexpectedly limited: %+v", i+1, res)
		}
	}

	res := l.Check(1, 0, cfg)
	if !res.Limited {
		t.Fatal("4th request should be limited")
	}
	if res.Reason != ReasonRateLimit {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonRateLimit)
	}
	if res.RetryAfterSeconds <= 0 || res.RetryAfterSeconds > 60 {
		t.Fatalf("RetryAfterSeconds = %d, want within (0, 60]", res.RetryAfterSeconds)
	}
}

func TestLimiter_WindowResetsLazily(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	now := fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{MaxRequests: 2, Window: time.Minute}

	_ = l.Check(1, 0, cfg)
	_ = l.Check(1, 0, cfg)
	if res := l.Check(1, 0, cfg); !res.Limited {
		t.Fatal("expected limit within window")
	}

	*now = now.Add(61 * time.Second)

	if res := l.Check(1, 0, cfg); res.Limited {
		t.Fatalf("expected allow after window elapsed, got %+v", res)
	}
}

func TestLimiter_PenaltyOutlivesWindow(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	now := fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.MaxRequests = 1
	cfg.Progressive = false

	_ = l.Check(1, 0, cfg)

	// Violation arms the penalty.
	if res := l.Check(1, 0, cfg); res.Reason != ReasonRateLimit {
		t.Fatalf("reason = %q, want rate_limit", res.Reason)
	}

	// Past the window but inside the penalty: still blocked, reason penalty.
	*now = now.Add(2 * time.Minute)
	res := l.Check(1, 0, cfg)
	if res.Reason != ReasonPenalty {
		t.Fatalf("reason = %q, want penalty", res.Reason)
	}
	// 300s penalty, 120s elapsed.
	if res.RetryAfterSeconds != 180 {
		t.Fatalf("RetryAfterSeconds = %d, want 180", res.RetryAfterSeconds)
	}

	// Past the penalty: allowed again.
	*now = now.Add(4 * time.Minute)
	if res := l.Check(1, 0, cfg); res.Limited {
		t.Fatalf("expected allow after penalty expiry, got %+v", res)
	}
}

func TestLimiter_ProgressivePenaltyEscalatesAndCaps(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	now := fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{
		MaxRequests: 1,
		Window:      time.Minute,
		Penalty:     100 * time.Second,
		Progressive: true,
	}

	// Violations 1 through 6: durations 100, 200, 300, 400, 500, 500.
	want := []int{100, 200, 300, 400, 500, 500}
	for i, dur := range want {
		_ = l.Check(1, 0, cfg) // consume the allowance
		res := l.Check(1, 0, cfg)
		if res.Reason != ReasonRateLimit {
			t.Fatalf("violation %d: reason = %q, want rate_limit", i+1, res.Reason)
		}

		// Immediately after, the penalty governs.
		res = l.Check(1, 0, cfg)
		if res.Reason != ReasonPenalty {
			t.Fatalf("violation %d: reason = %q, want penalty", i+1, res.Reason)
		}
		if res.RetryAfterSeconds != dur {
			t.Fatalf("violation %d: penalty = %ds, want %ds", i+1, res.RetryAfterSeconds, dur)
		}

		// Let the penalty (and window) fully expire before the next round.
		*now = now.Add(time.Duration(dur)*time.Second + time.Minute)
	}
}

func TestLimiter_ClearUserLiftsPenalty(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	cfg := Config{MaxRequests: 1, Window: time.Minute, Penalty: time.Hour}

	_ = l.Check(7, 0, cfg)
	_ = l.Check(7, 0, cfg) // arms the penalty
	if res := l.Check(7, 0, cfg); res.Reason != ReasonPenalty {
		t.Fatalf("reason = %q, want penalty", res.Reason)
	}

	l.ClearUser(7)

	if res := l.Check(7, 0, cfg); res.Limited {
		t.Fatalf("expected allow after ClearUser, got %+v", res)
	}
}

func TestLimiter_ChatLimitEngagesAtFiveTimesMax(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	cfg := Config{MaxRequests: 2, Window: time.Minute}
	const chat = int64(-100555)

	// 10 requests from 10 distinct users fill the chat window (5 x 2).
	for uid := int64(1); uid <= 10; uid++ {
		if res := l.Check(uid, chat, cfg); res.Limited {
			t.Fatalf("user %d unexpectedly limited: %+v", uid, res)
		}
	}

	// The 11th, from yet another user, trips the chat limit.
	res := l.Check(99, chat, cfg)
	if res.Reason != ReasonChatLimit {
		t.Fatalf("reason = %q, want chat_limit", res.Reason)
	}
}

func TestLimiter_NoChatLimitWithoutChatID(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	cfg := Config{MaxRequests: 1, Window: time.Minute}

	// Distinct users, no chat: nothing aggregates.
	for uid := int64(1); uid <= 50; uid++ {
		if res := l.Check(uid, 0, cfg); res.Limited {
			t.Fatalf("user %d unexpectedly limited", uid)
		}
	}
}

func TestLimiter_EndToEndScenario(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := testConfig() // 10 per 60s, 300s penalty

	const user, chat = int64(42), int64(-100555)

	for i := range 10 {
		if res := l.Check(user, chat, cfg); res.Limited {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}

	res := l.Check(user, chat, cfg)
	if res.Reason != ReasonRateLimit {
		t.Fatalf("request 11: reason = %q, want rate_limit", res.Reason)
	}
	if res.RetryAfterSeconds != 60 {
		t.Fatalf("request 11: RetryAfterSeconds = %d, want 60", res.RetryAfterSeconds)
	}

	res = l.Check(user, chat, cfg)
	if res.Reason != ReasonPenalty {
		t.Fatalf("request 12: reason = %q, want penalty", res.Reason)
	}
	if res.RetryAfterSeconds != 300 {
		t.Fatalf("request 12: RetryAfterSeconds = %d, want 300", res.RetryAfterSeconds)
	}
}

func TestLimiter_SweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	now := fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{MaxRequests: 1, Window: time.Minute, Penalty: 10 * time.Minute}

	_ = l.Check(1, 0, cfg)
	_ = l.Check(1, 0, cfg) // user 1 now carries a 10 min penalty
	_ = l.Check(2, 0, cfg) // user 2 just has a window

	*now = now.Add(2 * time.Minute)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d entries, want 1 (user 2 only)", removed)
	}

	s := l.Stats()
	if s.TrackedUsers != 1 {
		t.Fatalf("TrackedUsers = %d, want 1", s.TrackedUsers)
	}

	// After the penalty expires everything is sweepable.
	*now = now.Add(10 * time.Minute)
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("second Sweep removed %d, want 1", removed)
	}
}

func TestLimiter_Stats(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	fixedClock(l, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{MaxRequests: 1, Window: time.Minute, Penalty: time.Hour}

	_ = l.Check(1, -5, cfg)
	_ = l.Check(1, -5, cfg) // penalty for user 1
	_ = l.Check(2, -5, cfg)

	s := l.Stats()
	if s.TrackedUsers != 2 || s.TrackedChats != 1 {
		t.Fatalf("tracked = %d users / %d chats, want 2 / 1", s.TrackedUsers, s.TrackedChats)
	}
	if s.UsersUnderPenalty != 1 {
		t.Fatalf("UsersUnderPenalty = %d, want 1", s.UsersUnderPenalty)
	}
	if s.UsersInWindow != 2 {
		t.Fatalf("UsersInWindow = %d, want 2", s.UsersInWindow)
	}
}
