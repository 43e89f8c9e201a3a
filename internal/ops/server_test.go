package ops

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veymont/chatinfo/internal/ratelimit"
)

func testHandler(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(":0", deps, logger).server.Handler
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	h := testHandler(t, Deps{Limiter: ratelimit.NewLimiter()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	h := testHandler(t, Deps{Limiter: ratelimit.NewLimiter()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestServer_RateLimitStatsAndClear(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewLimiter()
	cfg := ratelimit.Config{MaxRequests: 1, Window: time.Minute, Penalty: time.Hour}
	_ = limiter.Check(42, -100, cfg)
	_ = limiter.Check(42, -100, cfg) // arms the penalty

	h := testHandler(t, Deps{Limiter: limiter})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ratelimit/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats ratelimit.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TrackedUsers != 1 || stats.UsersUnderPenalty != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/ratelimit/users/42", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if got := limiter.Stats().UsersUnderPenalty; got != 0 {
		t.Fatalf("UsersUnderPenalty = %d after clear, want 0", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/ratelimit/users/notanumber", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestServer_EventsRouteOnlyWithStore(t *testing.T) {
	t.Parallel()

	h := testHandler(t, Deps{Limiter: ratelimit.NewLimiter()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("events without store: status = %d, want 404", rec.Code)
	}
}

func TestServer_WebhookMount(t *testing.T) {
	t.Parallel()

	called := false
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := testHandler(t, Deps{Limiter: ratelimit.NewLimiter(), Webhook: webhook})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/telegram", nil))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("webhook not mounted: called=%v status=%d", called, rec.Code)
	}
}
