// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindGatewayUnavailable  Kind = "gateway_unavailable"
	KindGatewayRejected     Kind = "gateway_rejected"
	KindGatewayAuthMismatch Kind = "gateway_auth_mismatch"
	KindDestinationMissing  Kind = "payout_destination_missing"
	KindMalformedWebhook    Kind = "malformed_webhook"
	KindUnauthorized        Kind = "unauthorized"
	KindInternal            Kind = "internal"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict            = &Error{Kind: KindConflict, Message: "conflict"}
	ErrGatewayUnavailable  = &Error{Kind: KindGatewayUnavailable, Message: "payment gateway unavailable"}
	ErrGatewayRejected     = &Error{Kind: KindGatewayRejected, Message: "payment gateway rejected the request"}
	ErrGatewayAuthMismatch = &Error{Kind: KindGatewayAuthMismatch, Message: "payment gateway credentials do not match the environment"}
	ErrDestinationMissing  = &Error{Kind: KindDestinationMissing, Message: "creator has no payout destination"}
	ErrMalformedWebhook    = &Error{Kind: KindMalformedWebhook, Message: "malformed webhook"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so wrapped errors compare equal
// to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error   { return New(KindConflict, format, args...) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindMalformedWebhook:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayRejected, KindGatewayAuthMismatch:
		return http.StatusBadGateway
	case KindDestinationMissing:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
