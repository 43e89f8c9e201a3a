package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Logging returns a stage that times the downstream call and logs its
// outcome. Failures are logged and re-returned so the router's backstop
// still sees them.
func Logging(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if err != nil {
				logger.Error("command failed",
					"command", req.Command,
					"chat_id", req.ChatID,
					"user_id", req.UserID,
					"duration", time.Since(start),
					"error", err,
				)
				return err
			}
			logger.Info("command handled",
				"command", req.Command,
				"chat_id", req.ChatID,
				"user_id", req.UserID,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// RateLimit returns a standalone per-user fixed-window stage: no chat-level
// limiting, no penalty escalation. On trip it replies with the remaining
// time and stops the chain.
func RateLimit(maxRequests int, window time.Duration) Middleware {
	type counter struct {
		count   int
		resetAt time.Time
	}
	var mu sync.Mutex
	users := make(map[int64]*counter)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			// No sender id: nothing to key on, allow through.
			if req.UserID == 0 {
				return next(ctx, req)
			}

			mu.Lock()
			now := time.Now()
			c := users[req.UserID]
			if c == nil || !now.Before(c.resetAt) {
				c = &counter{resetAt: now.Add(window)}
				users[req.UserID] = c
			}
			c.count++
			limited := c.count > maxRequests
			remaining := c.resetAt.Sub(now)
			mu.Unlock()

			if limited {
				req.SendQuiet(ctx, fmt.Sprintf(
					"Too many requests. Try again in %d seconds.",
					int(math.Ceil(remaining.Seconds()))))
				return nil
			}
			return next(ctx, req)
		}
	}
}

// AdminAllowlist returns a stage that only lets the listed user ids through.
// Everyone else gets a fixed rejection reply.
func AdminAllowlist(ids ...int64) Middleware {
	allowed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if _, ok := allowed[req.UserID]; !ok {
				req.SendQuiet(ctx, "Admin permission required for this command.")
				return nil
			}
			return next(ctx, req)
		}
	}
}
