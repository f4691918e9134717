// Package ledger is the durable record of payment intents. It is the only
// writer of PaymentIntent rows; every state change is a guarded
// compare-and-set so concurrent webhook deliveries settle an intent once.
package ledger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

var (
	ErrNotFound  = errors.New("payment intent not found")
	ErrDuplicate = errors.New("payment intent already exists")
	// ErrNotDeletable is returned when Delete targets an intent that already
	// references an external order or left Pending.
	ErrNotDeletable = errors.New("payment intent cannot be deleted")
	// ErrOpenIntent is returned by Create when the payer already has a
	// Pending intent for the file.
	ErrOpenIntent = errors.New("payer already has an open payment intent for this file")
	// ErrOrderAttached is returned when an order token is already set.
	ErrOrderAttached = errors.New("external order already attached")
	// ErrInvalidTransition rejects a from/to pair outside the state machine.
	ErrInvalidTransition = errors.New("transition not allowed")
)

// Patch holds the fields written together with a state transition. Zero
// values are left untouched.
type Patch struct {
	ExternalPaymentToken string
	FailureReason        string
	RefundReason         string
	SettledAt            *time.Time
	PayoutState          models.PayoutState
}

// PayoutPatch holds the fields written together with a payout transition.
type PayoutPatch struct {
	PayoutToken string
	Reason      string
	PayoutAt    *time.Time
}

type Store interface {
	// Create inserts a new intent. At most one Pending intent may exist per
	// file and payer.
	Create(ctx context.Context, intent *models.PaymentIntent) error
	AttachOrder(ctx context.Context, id, orderToken, checkoutToken string) (*models.PaymentIntent, error)
	Delete(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetByOrderToken(ctx context.Context, orderToken string) (*models.PaymentIntent, error)
	GetByIdempotencyToken(ctx context.Context, token string) (*models.PaymentIntent, error)
	GetByPayoutToken(ctx context.Context, payoutToken string) (*models.PaymentIntent, error)
	LatestForPayer(ctx context.Context, fileRef, payerRef string) (*models.PaymentIntent, error)
	ListByPayer(ctx context.Context, payerRef string) ([]models.PaymentIntent, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error)

	// Transition moves the intent to `to` only if its current state is one
	// of `from`. applied is false, with a nil error, when the guard fails.
	Transition(ctx context.Context, id string, from []models.State, to models.State, patch Patch) (intent *models.PaymentIntent, applied bool, err error)
	// TransitionPayout is Transition for the payout state.
	TransitionPayout(ctx context.Context, id string, from []models.PayoutState, to models.PayoutState, patch PayoutPatch) (intent *models.PaymentIntent, applied bool, err error)
}

// EventFilter narrows EventLog.List.
type EventFilter struct {
	Outcome    models.Outcome
	OrderToken string
	Limit      int
}

// EventLog keeps every inbound webhook delivery for operator follow-up.
type EventLog interface {
	Record(ctx context.Context, event *models.WebhookEvent) error
	List(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, error)
}

// allowed is the transition table. Processing is only entered by gateways
// that settle in two steps (approve, then capture).
var allowed = map[models.State][]models.State{
	models.StatePending:    {models.StateProcessing, models.StateCompleted, models.StateFailed},
	models.StateProcessing: {models.StateCompleted, models.StateFailed},
	models.StateCompleted:  {models.StateRefunded},
}

// CanTransition reports whether from -> to is a documented transition.
func CanTransition(from, to models.State) bool {
	return slices.Contains(allowed[from], to)
}

func validTransition(from []models.State, to models.State) bool {
	if len(from) == 0 {
		return false
	}
	for _, f := range from {
		if !CanTransition(f, to) {
			return false
		}
	}
	return true
}

func applyPatch(intent *models.PaymentIntent, to models.State, patch Patch, now time.Time) {
	intent.State = to
	intent.UpdatedAt = now
	if patch.ExternalPaymentToken != "" {
		intent.ExternalPaymentToken = patch.ExternalPaymentToken
	}
	if patch.FailureReason != "" {
		intent.FailureReason = patch.FailureReason
	}
	if patch.RefundReason != "" {
		intent.RefundReason = patch.RefundReason
	}
	if patch.SettledAt != nil {
		t := *patch.SettledAt
		intent.SettledAt = &t
	}
	if patch.PayoutState != "" {
		intent.PayoutState = patch.PayoutState
	}
}

func applyPayoutPatch(intent *models.PaymentIntent, to models.PayoutState, patch PayoutPatch, now time.Time) {
	intent.PayoutState = to
	intent.UpdatedAt = now
	if patch.PayoutToken != "" {
		intent.PayoutToken = patch.PayoutToken
	}
	if patch.Reason != "" {
		intent.PayoutReason = patch.Reason
	}
	if patch.PayoutAt != nil {
		t := *patch.PayoutAt
		intent.PayoutAt = &t
	}
}
