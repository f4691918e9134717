package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

type RefundService struct {
	store ledger.Store
	log   *slog.Logger
}

func NewRefundService(store ledger.Store, log *slog.Logger) *RefundService {
	return &RefundService{store: store, log: log.With("service", "refund")}
}

// Refund marks a completed intent refunded, which revokes the payer's
// access. Money movement back to the payer happens outside this service.
func (s *RefundService) Refund(ctx context.Context, intentID, reason string) (*models.PaymentIntent, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("refund reason is required")
	}

	intent, applied, err := s.store.Transition(ctx, intentID, []models.State{models.StateCompleted}, models.StateRefunded, ledger.Patch{
		RefundReason: reason,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, apperr.NotFound("payment intent %s not found", intentID)
		}
		s.log.Error("Failed to refund payment intent", "intent_id", intentID, "error", err)
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("payment intent %s is %s and cannot be refunded", intentID, intent.State)
	}

	s.log.Info("Payment refunded", "intent_id", intentID, "payout_state", intent.PayoutState, "reason", reason)
	return intent, nil
}
