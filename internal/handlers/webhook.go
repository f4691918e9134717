package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

type Ingester interface {
	Ingest(ctx context.Context, header http.Header, body []byte) *models.WebhookEvent
}

// WebhookHandler receives gateway notifications. Once a delivery is
// authenticated it is always acknowledged with 200; processing problems
// are kept in the webhook event log instead of triggering gateway retries.
type WebhookHandler struct {
	verifier webhook.Verifier
	ingester Ingester
	log      *slog.Logger
}

func NewWebhookHandler(verifier webhook.Verifier, ingester Ingester, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, ingester: ingester, log: log.With("handler", "webhook")}
}

func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.verifier.Verify(r.Context(), r, body); err != nil {
		h.log.Warn("Unauthorized webhook", "remote_ip", remoteIP(r), "error", err)
		writeMessage(w, http.StatusUnauthorized, "Unauthorized webhook")
		return
	}

	rec := h.ingester.Ingest(r.Context(), r.Header, body)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received", "outcome": string(rec.Outcome)})
}
