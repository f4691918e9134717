// Package webhook turns provider callbacks into a closed set of events and
// verifies that a delivery really came from the provider.
package webhook

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
)

var (
	// ErrUnknownEvent is returned for event tags outside the closed set.
	ErrUnknownEvent = errors.New("unknown webhook event")
	ErrMalformed    = apperr.ErrMalformedWebhook
)

func malformed(format string, args ...any) error {
	return apperr.New(apperr.KindMalformedWebhook, format, args...)
}

func unknown(tag string) error {
	return fmt.Errorf("%w: %q", ErrUnknownEvent, tag)
}

type Kind string

const (
	KindOrderPaid       Kind = "order.paid"
	KindOrderFailed     Kind = "order.failed"
	KindOrderAbandoned  Kind = "order.abandoned"
	KindOrderApproved   Kind = "order.approved"
	KindPayoutSucceeded Kind = "payout.succeeded"
	KindPayoutFailed    Kind = "payout.failed"
)

// Event is implemented only by the types in this file. Consumers switch on
// the concrete type; the default branch is unreachable for parsed events.
type Event interface {
	Kind() Kind
	// Ref is the provider token the event is about: the order token for
	// order events, the payout token for payout events.
	Ref() string
	sealed()
}

type OrderPaid struct {
	OrderToken   string
	PaymentToken string
	Amount       decimal.Decimal
	Currency     string
}

type OrderFailed struct {
	OrderToken string
	Reason     string
}

// OrderAbandoned is an order the payer never completed, e.g. an expired
// invoice or a voided checkout.
type OrderAbandoned struct {
	OrderToken string
	Reason     string
}

// OrderApproved is sent by two-step gateways once the payer approved and
// the order is ready to capture.
type OrderApproved struct {
	OrderToken string
}

type PayoutSucceeded struct {
	PayoutToken string
	// Reference is the merchant reference sent with the payout.
	Reference string
}

type PayoutFailed struct {
	PayoutToken string
	Reference   string
	Reason      string
}

func (OrderPaid) Kind() Kind       { return KindOrderPaid }
func (OrderFailed) Kind() Kind     { return KindOrderFailed }
func (OrderAbandoned) Kind() Kind  { return KindOrderAbandoned }
func (OrderApproved) Kind() Kind   { return KindOrderApproved }
func (PayoutSucceeded) Kind() Kind { return KindPayoutSucceeded }
func (PayoutFailed) Kind() Kind    { return KindPayoutFailed }

func (e OrderPaid) Ref() string       { return e.OrderToken }
func (e OrderFailed) Ref() string     { return e.OrderToken }
func (e OrderAbandoned) Ref() string  { return e.OrderToken }
func (e OrderApproved) Ref() string   { return e.OrderToken }
func (e PayoutSucceeded) Ref() string { return e.PayoutToken }
func (e PayoutFailed) Ref() string    { return e.PayoutToken }

func (OrderPaid) sealed()       {}
func (OrderFailed) sealed()     {}
func (OrderAbandoned) sealed()  {}
func (OrderApproved) sealed()   {}
func (PayoutSucceeded) sealed() {}
func (PayoutFailed) sealed()    {}

// Delivery is one parsed callback.
type Delivery struct {
	Provider string
	// EventID is the provider's delivery id when it sends one.
	EventID string
	// Tag is the provider's own event name, kept for the event log.
	Tag   string
	Event Event
}

// Parser decodes a provider's callback body. It returns ErrMalformed when
// the body is unreadable or lacks the token the event refers to, and
// ErrUnknownEvent for tags it does not handle.
type Parser interface {
	Provider() string
	Parse(header http.Header, body []byte) (*Delivery, error)
}
