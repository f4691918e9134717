package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the settlement lifecycle of a PaymentIntent.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateRefunded   State = "REFUNDED"
)

// Terminal reports whether no webhook-driven transition may leave s.
// Completed still allows the manual refund.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRefunded
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed, StateRefunded:
		return true
	}
	return false
}

// PayoutState tracks the creator payout for a settled intent.
type PayoutState string

const (
	PayoutPending     PayoutState = "PAYOUT_PENDING"
	PayoutProcessing  PayoutState = "PAYOUT_PROCESSING"
	PayoutCompleted   PayoutState = "PAYOUT_COMPLETED"
	PayoutFailed      PayoutState = "PAYOUT_FAILED"
	PayoutNotRequired PayoutState = "PAYOUT_NOT_REQUIRED"
)

func (s PayoutState) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed || s == PayoutNotRequired
}

// PaymentIntent is the ledger entry for one purchase attempt.
type PaymentIntent struct {
	ID               string          `json:"id"`
	IdempotencyToken string          `json:"idempotency_token"`
	FileRef          string          `json:"file_ref"`
	CreatorRef       string          `json:"creator_ref"`
	PayerRef         string          `json:"payer_ref"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	State            State           `json:"state"`
	Gateway          string          `json:"gateway"`

	ExternalOrderToken   string `json:"external_order_token,omitempty"`
	CheckoutSessionToken string `json:"checkout_session_token,omitempty"`
	ExternalPaymentToken string `json:"external_payment_token,omitempty"`

	PlatformShare decimal.Decimal `json:"platform_share"`
	CreatorShare  decimal.Decimal `json:"creator_share"`

	PayoutState   PayoutState `json:"payout_state"`
	PayoutToken   string      `json:"payout_token,omitempty"`
	PayoutReason  string      `json:"payout_reason,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	RefundReason  string      `json:"refund_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	PayoutAt  *time.Time `json:"payout_at,omitempty"`
}

// StatusView is the polling projection handed to clients.
type StatusView struct {
	OrderToken string          `json:"order_token"`
	State      State           `json:"state"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
	// GatewayStatus is only filled when the caller asked for a gateway refresh.
	GatewayStatus string `json:"gateway_status,omitempty"`
}

func (p *PaymentIntent) StatusView() StatusView {
	return StatusView{
		OrderToken: p.ExternalOrderToken,
		State:      p.State,
		Amount:     p.Amount,
		Currency:   p.Currency,
		SettledAt:  p.SettledAt,
	}
}
