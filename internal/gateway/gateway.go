// Package gateway adapts external payment providers to the order, capture
// and payout operations the services need.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
)

// Provider errors. They share identity with the apperr gateway kinds so
// handlers can map them to status codes without importing this package.
var (
	ErrUnavailable  = apperr.ErrGatewayUnavailable
	ErrRejected     = apperr.ErrGatewayRejected
	ErrAuthMismatch = apperr.ErrGatewayAuthMismatch
)

type OrderRequest struct {
	IntentID         string
	IdempotencyToken string
	Amount           decimal.Decimal
	Currency         string
	Description      string
	PayerEmail       string
	// ReturnURL is where the checkout page sends the payer afterwards.
	ReturnURL string
	// Expiry is how long the order stays payable. Zero leaves the
	// gateway's default.
	Expiry time.Duration
}

type Order struct {
	OrderToken           string
	CheckoutSessionToken string
	Status               string
}

type OrderStatus struct {
	OrderToken   string
	Status       string
	Paid         bool
	PaymentToken string
	// Closed means the order can no longer be paid.
	Closed bool
}

type Capture struct {
	PaymentToken string
	Status       string
	Completed    bool
}

type PayoutRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Destination string
	HolderName  string
	Description string
}

type PayoutStatus string

const (
	PayoutAccepted  PayoutStatus = "ACCEPTED"
	PayoutCompleted PayoutStatus = "COMPLETED"
	PayoutFailed    PayoutStatus = "FAILED"
)

type PayoutResult struct {
	PayoutToken string
	Status      PayoutStatus
}

type OrderGateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	QueryOrder(ctx context.Context, orderToken string) (*OrderStatus, error)
}

// Capturer is implemented by gateways that settle in two steps: the payer
// approves, then the merchant captures.
type Capturer interface {
	CaptureOrder(ctx context.Context, orderToken string) (*Capture, error)
}

type PayoutClient interface {
	Disburse(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

func unavailable(err error, format string, args ...any) error {
	return apperr.Wrap(apperr.KindGatewayUnavailable, err, format, args...)
}

func rejected(status int, body string) error {
	return apperr.New(apperr.KindGatewayRejected, "gateway rejected request: status %d: %s", status, body)
}

func authMismatch(format string, args ...any) error {
	return apperr.New(apperr.KindGatewayAuthMismatch, format, args...)
}

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func requireAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be positive, got %s", amount)
	}
	return nil
}
