// Package ops serves the bot's operational HTTP surface: health, metrics,
// rate limiter administration, recent security events, and the Telegram
// webhook mount.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veymont/chatinfo/internal/ratelimit"
	"github.com/veymont/chatinfo/internal/security"
)

const shutdownGrace = 10 * time.Second

// Deps are the collaborators the ops server exposes.
type Deps struct {
	Limiter *ratelimit.Limiter
	// Events may be nil when no SQLite store is configured.
	Events *security.Store
	// Webhook, when non-nil, is mounted at POST /webhooks/telegram.
	Webhook http.Handler
}

// Server is the operational HTTP server.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the ops server listening on addr.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{logger: logger}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ratelimit/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, deps.Limiter.Stats())
		})
		r.Delete("/ratelimit/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
			if err != nil {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			deps.Limiter.ClearUser(id)
			s.logger.Info("rate limit state cleared", "user_id", id)
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/ratelimit/chats/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
			if err != nil {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			deps.Limiter.ClearChat(id)
			s.logger.Info("rate limit state cleared", "chat_id", id)
			w.WriteHeader(http.StatusNoContent)
		})

		if deps.Events != nil {
			r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
				limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
				events, err := deps.Events.Recent(req.Context(), limit)
				if err != nil {
					s.logger.Error("failed to read events", "error", err)
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				writeJSON(w, events)
			})
		}
	})

	if deps.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/telegram", deps.Webhook)
	}

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server failed", "error", err)
		}
	}()
}

// Stop drains connections with a grace timeout.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
