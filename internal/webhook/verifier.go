package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
)

const (
	CallbackTokenHeader = "X-Callback-Token"
	SignatureHeader     = "X-Signature"
)

// Verifier authenticates a delivery before its payload is trusted. body is
// the raw request body; r.Body has already been consumed.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte) error
}

func unauthorized(format string, args ...any) error {
	return apperr.New(apperr.KindUnauthorized, format, args...)
}

// TokenVerifier checks the shared callback token and, when a signing
// secret is set, an HMAC-SHA256 of the body. With neither configured every
// delivery is refused.
type TokenVerifier struct {
	CallbackToken string
	SigningSecret string
}

func (v TokenVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	if v.CallbackToken == "" && v.SigningSecret == "" {
		return unauthorized("webhook verification is not configured")
	}
	if v.CallbackToken != "" {
		got := r.Header.Get(CallbackTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(v.CallbackToken)) != 1 {
			return unauthorized("invalid callback token")
		}
	}
	if v.SigningSecret != "" {
		sig, err := hex.DecodeString(r.Header.Get(SignatureHeader))
		if err != nil || len(sig) == 0 {
			return unauthorized("missing or malformed signature")
		}
		if !hmac.Equal(sig, mac(v.SigningSecret, body)) {
			return unauthorized("signature mismatch")
		}
	}
	return nil
}

// Sign returns the hex signature TokenVerifier expects for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// SignatureChecker asks the provider whether a notification is genuine.
type SignatureChecker interface {
	VerifyWebhook(ctx context.Context, r *http.Request, body []byte, webhookID string) (bool, error)
}

// PayPalVerifier delegates to PayPal's verify-webhook-signature API.
type PayPalVerifier struct {
	Checker   SignatureChecker
	WebhookID string
}

func (v PayPalVerifier) Verify(ctx context.Context, r *http.Request, body []byte) error {
	if v.Checker == nil || v.WebhookID == "" {
		return unauthorized("webhook verification is not configured")
	}
	ok, err := v.Checker.VerifyWebhook(ctx, r, body, v.WebhookID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnauthorized, err, "verifying paypal signature")
	}
	if !ok {
		return unauthorized("paypal signature verification failed")
	}
	return nil
}
