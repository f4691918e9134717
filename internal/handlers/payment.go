package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/services"
)

type OrderService interface {
	CreateOrder(ctx context.Context, fileID, payerID, idempotencyToken string) (*services.CheckoutSession, error)
	Status(ctx context.Context, orderToken, requesterID string, refresh bool) (*models.StatusView, error)
	History(ctx context.Context, payerID string) ([]models.PaymentIntent, error)
}

type RefundService interface {
	Refund(ctx context.Context, intentID, reason string) (*models.PaymentIntent, error)
}

type PaymentHandler struct {
	orders  OrderService
	refunds RefundService
	events  ledger.EventLog
	log     *slog.Logger
}

func NewPaymentHandler(orders OrderService, refunds RefundService, events ledger.EventLog, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{orders: orders, refunds: refunds, events: events, log: log.With("handler", "payment")}
}

// CreateOrder accepts the idempotency token in the body or in the
// Idempotency-Key header.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID           string `json:"file_id"`
		IdempotencyToken string `json:"idempotency_token"`
	}
	if err := decodeValid(w, r, createOrderLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = r.Header.Get("Idempotency-Key")
	}

	session, err := h.orders.CreateOrder(r.Context(), req.FileID, identity(r).UserID, req.IdempotencyToken)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	orderToken, err := requireVar(mux.Vars(r), "orderToken")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	refresh := cast.ToBool(r.URL.Query().Get("refresh"))

	view, err := h.orders.Status(r.Context(), orderToken, identity(r).UserID, refresh)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	intents, err := h.orders.History(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if intents == nil {
		intents = []models.PaymentIntent{}
	}
	writeJSON(w, http.StatusOK, intents)
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	intentID, err := requireVar(mux.Vars(r), "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeValid(w, r, refundLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	intent, err := h.refunds.Refund(r.Context(), intentID, req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("Refund issued", "intent_id", intentID, "admin", identity(r).UserID)
	writeJSON(w, http.StatusOK, intent)
}

// WebhookEvents lists recorded deliveries, newest first, for operators.
func (h *PaymentHandler) WebhookEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.EventFilter{
		Outcome:    models.Outcome(q.Get("outcome")),
		OrderToken: q.Get("order_token"),
		Limit:      100,
	}
	if v := q.Get("limit"); v != "" {
		limit, err := cast.ToIntE(v)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, h.log, apperr.Validation("limit must be between 1 and 1000"))
			return
		}
		filter.Limit = limit
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
