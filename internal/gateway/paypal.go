package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
)

type PayPalOptions struct {
	ClientID     string
	ClientSecret string
	Live         bool
	Timeout      time.Duration
	// APIBase overrides the sandbox/live endpoint, for tests.
	APIBase string
}

// PayPalService settles orders through PayPal Orders v2: the payer
// approves, then the order is captured.
type PayPalService struct {
	client  *paypal.Client
	initErr error
	timeout time.Duration
	log     *slog.Logger
}

var (
	_ OrderGateway = (*PayPalService)(nil)
	_ Capturer     = (*PayPalService)(nil)
	_ PayoutClient = (*PayPalService)(nil)
)

func NewPayPalService(opts PayPalOptions, log *slog.Logger) *PayPalService {
	s := &PayPalService{timeout: opts.Timeout, log: log.With("gateway", "paypal")}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		s.initErr = unavailable(nil, "PAYPAL_CLIENT_ID or PAYPAL_CLIENT_SECRET not set")
		return s
	}

	base := opts.APIBase
	if base == "" {
		base = paypal.APIBaseSandBox
		if opts.Live {
			base = paypal.APIBaseLive
		}
	}
	client, err := paypal.NewClient(opts.ClientID, opts.ClientSecret, base)
	if err != nil {
		s.initErr = unavailable(err, "paypal client")
		return s
	}
	client.Client = &http.Client{Timeout: s.timeout}
	s.client = client
	return s
}

func (s *PayPalService) Name() string { return "paypal" }

func (s *PayPalService) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	if err := requireAmount(req.Amount); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	units := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: req.IntentID,
			CustomID:    req.IdempotencyToken,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(req.Currency),
				Value:    formatAmount(req.Amount),
			},
			Description: req.Description,
		},
	}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: req.ReturnURL,
		CancelURL: req.ReturnURL,
	}

	order, err := s.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		s.log.Error("Failed to create PayPal order", "intent_id", req.IntentID, "error", err)
		return nil, s.classify(err, "create order")
	}

	approval := approvalURL(order)
	if approval == "" {
		return nil, rejected(http.StatusOK, "order has no approve link")
	}
	s.log.Info("PayPal order created", "intent_id", req.IntentID, "order_id", order.ID, "status", order.Status)
	return &Order{OrderToken: order.ID, CheckoutSessionToken: approval, Status: order.Status}, nil
}

func (s *PayPalService) QueryOrder(ctx context.Context, orderToken string) (*OrderStatus, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.client.GetOrder(ctx, orderToken)
	if err != nil {
		// PayPal drops orders that were never approved once they expire.
		if statusOf(err) == http.StatusNotFound {
			return &OrderStatus{OrderToken: orderToken, Status: "NOT_FOUND", Closed: true}, nil
		}
		return nil, s.classify(err, "get order")
	}
	return &OrderStatus{
		OrderToken: order.ID,
		Status:     order.Status,
		Paid:       order.Status == paypal.OrderStatusCompleted,
		Closed:     order.Status == "VOIDED",
	}, nil
}

func (s *PayPalService) CaptureOrder(ctx context.Context, orderToken string) (*Capture, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CaptureOrder(ctx, orderToken, paypal.CaptureOrderRequest{})
	if err != nil {
		s.log.Error("Failed to capture PayPal order", "order_id", orderToken, "error", err)
		return nil, s.classify(err, "capture order")
	}

	capture := &Capture{Status: resp.Status, Completed: resp.Status == paypal.OrderStatusCompleted}
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, c := range unit.Payments.Captures {
			capture.PaymentToken = c.ID
		}
	}
	s.log.Info("PayPal order captured", "order_id", orderToken, "capture_id", capture.PaymentToken, "status", resp.Status)
	return capture, nil
}

// Disburse sends the creator share through PayPal Payouts. Payout batches
// are asynchronous; the result is ACCEPTED until a webhook reports otherwise.
func (s *PayPalService) Disburse(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	if err := requireAmount(req.Amount); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: req.Reference,
			EmailSubject:  req.Description,
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "EMAIL",
				Receiver:      req.Destination,
				Amount: &paypal.AmountPayout{
					Currency: strings.ToUpper(req.Currency),
					Value:    formatAmount(req.Amount),
				},
				Note:         req.Description,
				SenderItemID: req.Reference,
			},
		},
	}
	resp, err := s.client.CreatePayout(ctx, payout)
	if err != nil {
		s.log.Error("Failed to create PayPal payout", "reference", req.Reference, "error", err)
		return nil, s.classify(err, "create payout")
	}

	result := &PayoutResult{Status: PayoutAccepted}
	if resp.BatchHeader != nil {
		result.PayoutToken = resp.BatchHeader.PayoutBatchID
		switch resp.BatchHeader.BatchStatus {
		case "SUCCESS":
			result.Status = PayoutCompleted
		case "DENIED", "CANCELED":
			result.Status = PayoutFailed
		}
	}
	return result, nil
}

// VerifyWebhook asks PayPal to validate the transmission headers of a
// webhook notification against the registered webhook id.
func (s *PayPalService) VerifyWebhook(ctx context.Context, r *http.Request, body []byte, webhookID string) (bool, error) {
	if s.initErr != nil {
		return false, s.initErr
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := s.client.VerifyWebhookSignature(ctx, r, webhookID)
	if err != nil {
		return false, s.classify(err, "verify webhook")
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func statusOf(err error) int {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	return 0
}

func (s *PayPalService) classify(err error, op string) error {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		status := apiErr.Response.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return authMismatch("paypal %s: %s", op, apiErr.Message)
		case status >= 500:
			return unavailable(err, "paypal %s", op)
		default:
			return rejected(status, apiErr.Message)
		}
	}
	return unavailable(err, "paypal %s", op)
}

func approvalURL(order *paypal.Order) string {
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
