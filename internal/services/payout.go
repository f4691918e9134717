package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/queue"
)

// ErrPayoutDeferred is returned by queued dispatchers.
var ErrPayoutDeferred = queue.ErrDeferred

// reasonDestinationMissing is recorded when the creator never set a payout handle.
const reasonDestinationMissing = "DestinationMissing"

// PayoutService sends the creator share of a settled intent.
type PayoutService struct {
	store  ledger.Store
	users  UserFinder
	client gateway.PayoutClient
	now    func() time.Time
	log    *slog.Logger
}

func NewPayoutService(store ledger.Store, users UserFinder, client gateway.PayoutClient, log *slog.Logger) *PayoutService {
	return &PayoutService{
		store:  store,
		users:  users,
		client: client,
		now:    time.Now,
		log:    log.With("service", "payout"),
	}
}

// Schedule disburses the creator share for intentID once. A payout already
// claimed by another worker returns its current token with a nil error.
func (s *PayoutService) Schedule(ctx context.Context, intentID string) (string, error) {
	intent, err := s.store.Get(ctx, intentID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", apperr.NotFound("payment intent %s not found", intentID)
		}
		return "", err
	}
	if intent.State != models.StateCompleted {
		return "", apperr.Conflict("payment intent %s is %s, not completed", intentID, intent.State)
	}
	if intent.PayoutState != models.PayoutPending {
		s.log.Info("Payout already handled", "intent_id", intentID, "payout_state", intent.PayoutState)
		return intent.PayoutToken, nil
	}

	if !intent.CreatorShare.IsPositive() {
		_, _, err := s.store.TransitionPayout(ctx, intentID, []models.PayoutState{models.PayoutPending}, models.PayoutNotRequired, ledger.PayoutPatch{})
		return "", err
	}

	creator, err := s.users.GetUser(ctx, intent.CreatorRef)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return "", err
	}
	if creator == nil || creator.PayoutDestination == "" {
		s.log.Warn("Creator has no payout destination", "intent_id", intentID, "creator_ref", intent.CreatorRef)
		if _, _, err := s.store.TransitionPayout(ctx, intentID, []models.PayoutState{models.PayoutPending}, models.PayoutFailed, ledger.PayoutPatch{
			Reason: reasonDestinationMissing,
		}); err != nil {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindDestinationMissing, apperr.ErrDestinationMissing, "creator %s", intent.CreatorRef)
	}

	claimed, applied, err := s.store.TransitionPayout(ctx, intentID, []models.PayoutState{models.PayoutPending}, models.PayoutProcessing, ledger.PayoutPatch{})
	if err != nil {
		return "", err
	}
	if !applied {
		return claimed.PayoutToken, nil
	}

	result, err := s.client.Disburse(ctx, gateway.PayoutRequest{
		Reference:   payoutReference(intentID),
		Amount:      claimed.CreatorShare,
		Currency:    claimed.Currency,
		Destination: creator.PayoutDestination,
		HolderName:  creator.FullName,
		Description: fmt.Sprintf("Payout for order %s", claimed.ExternalOrderToken),
	})
	if err != nil {
		if gateway.IsRetryable(err) {
			// The disbursement may have gone out. The payout webhook, matched
			// by reference, resolves the Processing state.
			s.log.Error("Payout outcome unknown", "intent_id", intentID, "reference", payoutReference(intentID), "error", err)
			return "", err
		}
		s.log.Error("Payout disbursement failed", "intent_id", intentID, "error", err)
		s.finish(ctx, intentID, models.PayoutFailed, "", err.Error())
		return "", err
	}

	switch result.Status {
	case gateway.PayoutCompleted:
		s.finish(ctx, intentID, models.PayoutCompleted, result.PayoutToken, "")
	case gateway.PayoutFailed:
		s.finish(ctx, intentID, models.PayoutFailed, result.PayoutToken, "rejected by gateway")
	default:
		// Resolved later by a payout webhook.
		if _, _, err := s.store.TransitionPayout(ctx, intentID, []models.PayoutState{models.PayoutProcessing}, models.PayoutProcessing, ledger.PayoutPatch{
			PayoutToken: result.PayoutToken,
		}); err != nil {
			s.log.Error("Failed to record payout token", "intent_id", intentID, "payout_token", result.PayoutToken, "error", err)
			return result.PayoutToken, err
		}
	}

	s.log.Info("Payout dispatched",
		"intent_id", intentID,
		"payout_token", result.PayoutToken,
		"status", result.Status,
		"amount", claimed.CreatorShare.String(),
	)
	return result.PayoutToken, nil
}

func (s *PayoutService) finish(ctx context.Context, intentID string, to models.PayoutState, token, reason string) {
	now := s.now()
	_, _, err := s.store.TransitionPayout(context.WithoutCancel(ctx), intentID, []models.PayoutState{models.PayoutProcessing}, to, ledger.PayoutPatch{
		PayoutToken: token,
		Reason:      reason,
		PayoutAt:    &now,
	})
	if err != nil {
		s.log.Error("Failed to record payout outcome", "intent_id", intentID, "payout_state", to, "error", err)
	}
}

// Handle adapts Schedule to queue.Handler.
func (s *PayoutService) Handle(ctx context.Context, intentID string) error {
	_, err := s.Schedule(ctx, intentID)
	return err
}

// PayoutRetryable reports whether a queued payout should be redelivered.
// Gateway and business errors have already been recorded on the intent;
// only storage failures leave it untouched.
func PayoutRetryable(err error) bool {
	return apperr.KindOf(err) == apperr.KindInternal
}
