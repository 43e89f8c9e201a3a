package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

const maxWebhookBody = 1 << 20

// WebhookReceiver processes incoming Telegram webhook payloads. It validates
// the X-Telegram-Bot-Api-Secret-Token header when a secret is configured and
// hands the decoded update to the dispatch function.
type WebhookReceiver struct {
	dispatch func(*Update)
	logger   *slog.Logger
	secret   string
}

// NewWebhookReceiver creates a new WebhookReceiver.
func NewWebhookReceiver(dispatch func(*Update), logger *slog.Logger, secret string) *WebhookReceiver {
	return &WebhookReceiver{
		dispatch: dispatch,
		logger:   logger,
		secret:   secret,
	}
}

// ServeHTTP implements http.Handler. Telegram expects a 200 promptly; the
// update is dispatched on a separate goroutine.
func (w *WebhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.secret != "" {
		token := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(w.secret), []byte(token)) != 1 {
			w.logger.Warn("webhook rejected: bad secret token", "remote", r.RemoteAddr)
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		w.logger.Warn("webhook rejected: invalid update JSON", "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	go w.dispatch(&update)
	rw.WriteHeader(http.StatusOK)
}
