package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/commission"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

type OrderOptions struct {
	CommissionRate decimal.Decimal
	Currency       string
	PublicBaseURL  string
	// PendingTTL is the sweeper's expiry window. Gateway orders are opened
	// with a shorter lifetime; zero keeps the gateway default.
	PendingTTL time.Duration
}

// OrderService opens payment intents and their gateway orders, and answers
// status polls.
type OrderService struct {
	store   ledger.Store
	files   FileFinder
	users   UserFinder
	gateway gateway.OrderGateway
	opts    OrderOptions
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

func NewOrderService(store ledger.Store, files FileFinder, users UserFinder, gw gateway.OrderGateway, opts OrderOptions, log *slog.Logger) *OrderService {
	return &OrderService{
		store:   store,
		files:   files,
		users:   users,
		gateway: gw,
		opts:    opts,
		now:     time.Now,
		newID:   newID,
		log:     log.With("service", "order"),
	}
}

// CheckoutSession is what the payer needs to complete payment.
type CheckoutSession struct {
	IntentID             string          `json:"intent_id"`
	OrderToken           string          `json:"order_token"`
	CheckoutSessionToken string          `json:"checkout_session_token"`
	State                models.State    `json:"state"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
}

func sessionOf(p *models.PaymentIntent) *CheckoutSession {
	return &CheckoutSession{
		IntentID:             p.ID,
		OrderToken:           p.ExternalOrderToken,
		CheckoutSessionToken: p.CheckoutSessionToken,
		State:                p.State,
		Amount:               p.Amount,
		Currency:             p.Currency,
	}
}

// CreateOrder opens a Pending intent for fileID and creates the matching
// gateway order. A repeated idempotencyToken returns the original session.
// If the gateway call fails the intent is deleted again.
func (s *OrderService) CreateOrder(ctx context.Context, fileID, payerID, idempotencyToken string) (*CheckoutSession, error) {
	if fileID == "" || payerID == "" {
		return nil, apperr.Validation("file id and payer are required")
	}

	if idempotencyToken != "" {
		session, err := s.replay(ctx, idempotencyToken, fileID, payerID)
		if err == nil || !errors.Is(err, ledger.ErrNotFound) {
			return session, err
		}
	} else {
		idempotencyToken = s.newID()
	}

	file, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !file.IsPublic {
		return nil, apperr.Validation("file %s is not available for purchase", fileID)
	}
	if !file.Paid() {
		return nil, apperr.Validation("file %s is free and needs no payment", fileID)
	}
	if file.CreatorRef == payerID {
		return nil, apperr.Conflict("creators cannot purchase their own files")
	}

	if latest, err := s.store.LatestForPayer(ctx, fileID, payerID); err == nil {
		if session, err := s.resolveLatest(ctx, latest); session != nil || err != nil {
			return session, err
		}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	platform, creator, err := commission.Split(file.Price, s.opts.CommissionRate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	intent := &models.PaymentIntent{
		ID:               s.newID(),
		IdempotencyToken: idempotencyToken,
		FileRef:          file.ID,
		CreatorRef:       file.CreatorRef,
		PayerRef:         payerID,
		Amount:           file.Price,
		Currency:         s.opts.Currency,
		State:            models.StatePending,
		Gateway:          s.gateway.Name(),
		PlatformShare:    platform,
		CreatorShare:     creator,
		PayoutState:      models.PayoutPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, intent); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return s.replay(ctx, idempotencyToken, fileID, payerID)
		}
		if errors.Is(err, ledger.ErrOpenIntent) {
			// A concurrent request opened the intent first.
			if latest, lerr := s.store.LatestForPayer(ctx, fileID, payerID); lerr == nil {
				if session, rerr := s.resolveLatest(ctx, latest); session != nil || rerr != nil {
					return session, rerr
				}
			}
			return nil, apperr.Conflict("an order for file %s is already open", fileID)
		}
		s.log.Error("Failed to create payment intent", "file_id", fileID, "error", err)
		return nil, err
	}

	var payerEmail string
	if payer, err := s.users.GetUser(ctx, payerID); err == nil {
		payerEmail = payer.Email
	}

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		IntentID:         intent.ID,
		IdempotencyToken: intent.IdempotencyToken,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		Description:      file.Title,
		PayerEmail:       payerEmail,
		ReturnURL:        s.opts.PublicBaseURL + "/checkout/return?intent=" + intent.ID,
		Expiry:           orderLifetime(s.opts.PendingTTL),
	})
	if err != nil {
		s.rollback(ctx, intent.ID, err)
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindGatewayUnavailable, err, "order creation failed")
		}
		return nil, err
	}

	attached, err := s.store.AttachOrder(ctx, intent.ID, order.OrderToken, order.CheckoutSessionToken)
	if err != nil {
		s.rollback(ctx, intent.ID, err)
		return nil, fmt.Errorf("failed to record order %s: %w", order.OrderToken, err)
	}

	s.log.Info("Order created",
		"intent_id", attached.ID,
		"order_token", attached.ExternalOrderToken,
		"amount", attached.Amount.String(),
		"platform_share", attached.PlatformShare.String(),
		"creator_share", attached.CreatorShare.String(),
	)
	return sessionOf(attached), nil
}

// resolveLatest decides what a new purchase request does about the payer's
// latest intent for the file. A nil session and nil error mean a new intent
// may be opened.
func (s *OrderService) resolveLatest(ctx context.Context, latest *models.PaymentIntent) (*CheckoutSession, error) {
	switch latest.State {
	case models.StateCompleted:
		return nil, apperr.Conflict("file %s is already purchased", latest.FileRef)
	case models.StateProcessing:
		return nil, apperr.Conflict("a payment for file %s is being captured", latest.FileRef)
	case models.StatePending:
	default:
		return nil, nil
	}

	if latest.ExternalOrderToken == "" {
		return nil, apperr.Conflict("an order for file %s is already being created", latest.FileRef)
	}
	lifetime := orderLifetime(s.opts.PendingTTL)
	if lifetime <= 0 || s.now().Sub(latest.CreatedAt) < lifetime {
		if latest.Gateway != s.gateway.Name() {
			return nil, apperr.Conflict("an order for file %s is still open on %s", latest.FileRef, latest.Gateway)
		}
		s.log.Info("Reusing open order", "intent_id", latest.ID, "order_token", latest.ExternalOrderToken)
		return sessionOf(latest), nil
	}

	// The order should have closed at the gateway by now. Confirm before
	// giving up on it.
	check, _, err := checkOrder(ctx, s.gateway, latest)
	if err != nil {
		return nil, err
	}
	switch check {
	case orderOpen:
		s.log.Info("Reusing open order", "intent_id", latest.ID, "order_token", latest.ExternalOrderToken)
		return sessionOf(latest), nil
	case orderPaid:
		return nil, apperr.Conflict("payment for file %s is awaiting confirmation", latest.FileRef)
	}

	_, applied, err := s.store.Transition(ctx, latest.ID, []models.State{models.StatePending}, models.StateFailed, ledger.Patch{
		FailureReason: reasonExpired,
		PayoutState:   models.PayoutNotRequired,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("order for file %s changed state, retry", latest.FileRef)
	}
	s.log.Info("Expired closed order before reopening", "intent_id", latest.ID, "order_token", latest.ExternalOrderToken)
	return nil, nil
}

func (s *OrderService) replay(ctx context.Context, token, fileID, payerID string) (*CheckoutSession, error) {
	existing, err := s.store.GetByIdempotencyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if existing.FileRef != fileID || existing.PayerRef != payerID {
		return nil, apperr.Conflict("idempotency token was used for a different order")
	}
	if existing.ExternalOrderToken == "" {
		return nil, apperr.Conflict("order creation for this idempotency token is still in progress")
	}
	return sessionOf(existing), nil
}

// rollback removes an intent whose gateway order never came to exist.
func (s *OrderService) rollback(ctx context.Context, intentID string, cause error) {
	s.log.Warn("Rolling back payment intent", "intent_id", intentID, "cause", cause)
	if err := s.store.Delete(context.WithoutCancel(ctx), intentID); err != nil {
		s.log.Error("Failed to roll back payment intent", "intent_id", intentID, "error", err)
	}
}

// Status is a read-only view for polling. With refresh the gateway is asked
// for its own view, which is reported but never written to the ledger.
func (s *OrderService) Status(ctx context.Context, orderToken, requesterID string, refresh bool) (*models.StatusView, error) {
	intent, err := s.store.GetByOrderToken(ctx, orderToken)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, apperr.NotFound("order %s not found", orderToken)
		}
		return nil, err
	}
	if requesterID != intent.PayerRef && requesterID != intent.CreatorRef {
		return nil, apperr.NotFound("order %s not found", orderToken)
	}

	view := intent.StatusView()
	if refresh && intent.Gateway == s.gateway.Name() {
		status, err := s.gateway.QueryOrder(ctx, orderToken)
		if err != nil {
			s.log.Warn("Gateway status query failed", "order_token", orderToken, "error", err)
			return nil, err
		}
		view.GatewayStatus = status.Status
	}
	return &view, nil
}

// History lists the payer's intents, newest first.
func (s *OrderService) History(ctx context.Context, payerID string) ([]models.PaymentIntent, error) {
	return s.store.ListByPayer(ctx, payerID)
}
