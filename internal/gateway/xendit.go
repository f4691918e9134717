package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	xenditSandboxPrefix = "xnd_development_"
	xenditLivePrefix    = "xnd_production_"

	defaultXenditBaseURL = "https://api.xendit.co"
	maxAttempts          = 3

	// defaultInvoiceDuration matches Xendit's own default of 24h.
	defaultInvoiceDuration = 24 * time.Hour
)

type XenditOptions struct {
	SecretKey string
	BaseURL   string
	Live      bool
	Timeout   time.Duration
	// Backoff is the delay unit between retries; attempt n waits n*Backoff.
	Backoff time.Duration
}

// XenditService talks to the Xendit invoice and disbursement APIs.
type XenditService struct {
	secretKey string
	baseURL   string
	live      bool
	timeout   time.Duration
	backoff   time.Duration
	client    *http.Client
	log       *slog.Logger
}

var (
	_ OrderGateway = (*XenditService)(nil)
	_ PayoutClient = (*XenditService)(nil)
)

func NewXenditService(opts XenditOptions, log *slog.Logger) *XenditService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultXenditBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &XenditService{
		secretKey: opts.SecretKey,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		live:      opts.Live,
		timeout:   opts.Timeout,
		backoff:   opts.Backoff,
		client:    &http.Client{Timeout: opts.Timeout},
		log:       log.With("gateway", "xendit"),
	}
}

func (s *XenditService) Name() string { return "xendit" }

// checkCredentials catches a key issued for the other environment before
// any request leaves the process.
func (s *XenditService) checkCredentials() error {
	if s.secretKey == "" {
		return unavailable(nil, "XENDIT_SECRET_KEY not set")
	}
	if s.live && strings.HasPrefix(s.secretKey, xenditSandboxPrefix) {
		return authMismatch("sandbox Xendit key used in live environment")
	}
	if !s.live && strings.HasPrefix(s.secretKey, xenditLivePrefix) {
		return authMismatch("live Xendit key used in sandbox environment")
	}
	return nil
}

type xenditInvoiceRequest struct {
	ExternalID         string              `json:"external_id"`
	Amount             json.Number         `json:"amount"`
	Currency           string              `json:"currency"`
	Description        string              `json:"description,omitempty"`
	PayerEmail         string              `json:"payer_email,omitempty"`
	SuccessRedirectURL string              `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string              `json:"failure_redirect_url,omitempty"`
	InvoiceDuration    int                 `json:"invoice_duration"`
	Items              []xenditInvoiceItem `json:"items,omitempty"`
}

type xenditInvoiceItem struct {
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type xenditInvoiceResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoice_url"`
	PaymentID  string `json:"payment_id"`
}

func (s *XenditService) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := s.checkCredentials(); err != nil {
		return nil, err
	}
	if err := requireAmount(req.Amount); err != nil {
		return nil, err
	}

	duration := req.Expiry
	if duration <= 0 {
		duration = defaultInvoiceDuration
	}
	amount := json.Number(formatAmount(req.Amount))
	body := xenditInvoiceRequest{
		ExternalID:         req.IntentID,
		Amount:             amount,
		Currency:           req.Currency,
		Description:        req.Description,
		PayerEmail:         req.PayerEmail,
		SuccessRedirectURL: req.ReturnURL,
		FailureRedirectURL: req.ReturnURL,
		InvoiceDuration:    int(duration.Seconds()),
		Items: []xenditInvoiceItem{
			{Name: req.Description, Price: amount, Quantity: 1},
		},
	}

	var resp xenditInvoiceResponse
	if err := s.do(ctx, http.MethodPost, "/v2/invoices", req.IdempotencyToken, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.InvoiceURL == "" {
		s.log.Error("Invoice response missing id or url", "intent_id", req.IntentID, "status", resp.Status)
		return nil, rejected(http.StatusOK, "invoice response missing id or invoice_url")
	}

	s.log.Info("Invoice created", "intent_id", req.IntentID, "invoice_id", resp.ID, "status", resp.Status)
	return &Order{
		OrderToken:           resp.ID,
		CheckoutSessionToken: resp.InvoiceURL,
		Status:               resp.Status,
	}, nil
}

func (s *XenditService) QueryOrder(ctx context.Context, orderToken string) (*OrderStatus, error) {
	if err := s.checkCredentials(); err != nil {
		return nil, err
	}

	var resp xenditInvoiceResponse
	if err := s.do(ctx, http.MethodGet, "/v2/invoices/"+url.PathEscape(orderToken), "", nil, &resp); err != nil {
		return nil, err
	}
	return &OrderStatus{
		OrderToken:   resp.ID,
		Status:       resp.Status,
		Paid:         resp.Status == "PAID" || resp.Status == "SETTLED",
		Closed:       resp.Status == "EXPIRED",
		PaymentToken: resp.PaymentID,
	}, nil
}

type xenditDisbursementRequest struct {
	ExternalID        string      `json:"external_id"`
	BankCode          string      `json:"bank_code"`
	AccountHolderName string      `json:"account_holder_name"`
	AccountNumber     string      `json:"account_number"`
	Description       string      `json:"description"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency,omitempty"`
}

type xenditDisbursementResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *XenditService) Disburse(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if err := s.checkCredentials(); err != nil {
		return nil, err
	}
	if err := requireAmount(req.Amount); err != nil {
		return nil, err
	}

	body := xenditDisbursementRequest{
		ExternalID:        req.Reference,
		BankCode:          "UPI",
		AccountHolderName: req.HolderName,
		AccountNumber:     req.Destination,
		Description:       req.Description,
		Amount:            json.Number(formatAmount(req.Amount)),
		Currency:          req.Currency,
	}

	var resp xenditDisbursementResponse
	if err := s.do(ctx, http.MethodPost, "/disbursements", req.Reference, body, &resp); err != nil {
		return nil, err
	}

	result := &PayoutResult{PayoutToken: resp.ID, Status: PayoutAccepted}
	switch strings.ToUpper(resp.Status) {
	case "COMPLETED", "SUCCEEDED":
		result.Status = PayoutCompleted
	case "FAILED":
		result.Status = PayoutFailed
	}
	s.log.Info("Disbursement created", "reference", req.Reference, "disbursement_id", resp.ID, "status", resp.Status)
	return result, nil
}

// do sends one API call, retrying transport failures and 5xx responses.
// Other non-2xx responses are returned immediately.
func (s *XenditService) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		s.log.Debug("Xendit request", "method", method, "path", path, "body", string(maskSensitiveFields(payload)))
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return unavailable(ctx.Err(), "xendit %s %s: gave up after %d attempts", method, path, attempt-1)
			case <-time.After(time.Duration(attempt-1) * s.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", path, err)
		}
		req.SetBasicAuth(s.secretKey, "")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("X-IDEMPOTENCY-KEY", idempotencyKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Warn("Xendit request failed", "method", method, "path", path, "attempt", attempt, "error", err)
			lastErr = unavailable(err, "xendit %s %s", method, path)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = unavailable(readErr, "xendit %s %s: reading response", method, path)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return rejected(resp.StatusCode, "undecodable response body")
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			s.log.Error("Xendit rejected credentials", "method", method, "path", path, "status", resp.StatusCode)
			return authMismatch("xendit %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 500:
			s.log.Warn("Xendit server error", "method", method, "path", path, "attempt", attempt, "status", resp.StatusCode, "body", string(body))
			lastErr = unavailable(nil, "xendit %s %s: status %d", method, path, resp.StatusCode)
			continue
		default:
			s.log.Error("Xendit request rejected", "method", method, "path", path, "status", resp.StatusCode, "body", string(body))
			return rejected(resp.StatusCode, string(body))
		}
	}
	return lastErr
}

// maskSensitiveFields hides payer contact and payout account details
// before a request body is logged.
func maskSensitiveFields(body []byte) []byte {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}
	if email, ok := req["payer_email"].(string); ok {
		req["payer_email"] = maskEmail(email)
	}
	if account, ok := req["account_number"].(string); ok {
		req["account_number"] = maskTail(account)
	}
	masked, err := json.Marshal(req)
	if err != nil {
		return body
	}
	return masked
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || len(local) <= 3 {
		return "****@" + domain
	}
	return local[:3] + "****@" + domain
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
