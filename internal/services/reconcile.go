package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/queue"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

// Reconciler applies verified gateway callbacks to the ledger. Every
// delivery is recorded in the event log with its outcome; none is ever
// reported back to the gateway as a failure.
type Reconciler struct {
	store    ledger.Store
	events   ledger.EventLog
	parser   webhook.Parser
	capturer gateway.Capturer
	payouts  queue.Dispatcher
	now      func() time.Time
	log      *slog.Logger
}

// NewReconciler builds a Reconciler. capturer may be nil for gateways that
// settle in one step.
func NewReconciler(store ledger.Store, events ledger.EventLog, parser webhook.Parser, capturer gateway.Capturer, payouts queue.Dispatcher, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		events:   events,
		parser:   parser,
		capturer: capturer,
		payouts:  payouts,
		now:      time.Now,
		log:      log.With("service", "reconciler"),
	}
}

// Ingest parses and applies one delivery and returns its audit record.
func (r *Reconciler) Ingest(ctx context.Context, header http.Header, body []byte) *models.WebhookEvent {
	rec := &models.WebhookEvent{
		ID:         newID(),
		Provider:   r.parser.Provider(),
		Payload:    string(body),
		ReceivedAt: r.now(),
	}

	d, err := r.parser.Parse(header, body)
	switch {
	case errors.Is(err, webhook.ErrUnknownEvent):
		rec.Kind = "unknown"
		rec.Outcome = models.OutcomeRejected
		rec.Error = err.Error()
		r.log.Warn("Rejected webhook with unknown event", "error", err)
	case err != nil:
		rec.Kind = "unknown"
		rec.Outcome = models.OutcomeMalformed
		rec.Error = err.Error()
		r.log.Warn("Malformed webhook", "error", err)
	default:
		rec.EventID = d.EventID
		rec.Kind = string(d.Event.Kind())
		if isOrderEvent(d.Event) {
			rec.OrderToken = d.Event.Ref()
		}
		outcome, intent, err := r.Apply(ctx, d.Event)
		rec.Outcome = outcome
		if intent != nil {
			rec.IntentID = intent.ID
			rec.OrderToken = intent.ExternalOrderToken
		}
		if err != nil {
			rec.Error = err.Error()
		}
		r.log.Info("Webhook processed",
			"provider", rec.Provider,
			"tag", d.Tag,
			"kind", rec.Kind,
			"ref", d.Event.Ref(),
			"intent_id", rec.IntentID,
			"outcome", rec.Outcome,
		)
	}

	if err := r.events.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Error("Failed to record webhook event", "event_id", rec.ID, "outcome", rec.Outcome, "error", err)
	}
	return rec
}

func isOrderEvent(ev webhook.Event) bool {
	switch ev.(type) {
	case webhook.OrderPaid, webhook.OrderFailed, webhook.OrderAbandoned, webhook.OrderApproved:
		return true
	}
	return false
}

// Apply performs the state change an event calls for. Redelivered events
// and events for intents already past the relevant state are duplicates.
func (r *Reconciler) Apply(ctx context.Context, ev webhook.Event) (models.Outcome, *models.PaymentIntent, error) {
	switch e := ev.(type) {
	case webhook.OrderPaid:
		return r.settle(ctx, e)
	case webhook.OrderApproved:
		return r.capture(ctx, e)
	case webhook.OrderFailed:
		return r.fail(ctx, e.OrderToken, e.Reason)
	case webhook.OrderAbandoned:
		return r.fail(ctx, e.OrderToken, e.Reason)
	case webhook.PayoutSucceeded:
		return r.resolvePayout(ctx, e.PayoutToken, e.Reference, models.PayoutCompleted, "")
	case webhook.PayoutFailed:
		return r.resolvePayout(ctx, e.PayoutToken, e.Reference, models.PayoutFailed, e.Reason)
	default:
		return models.OutcomeRejected, nil, fmt.Errorf("%w: %T", webhook.ErrUnknownEvent, ev)
	}
}

// lookup resolves the intent for an order event. A non-empty outcome means
// the caller stops there.
func (r *Reconciler) lookup(ctx context.Context, orderToken string) (*models.PaymentIntent, models.Outcome, error) {
	intent, err := r.store.GetByOrderToken(ctx, orderToken)
	if errors.Is(err, ledger.ErrNotFound) {
		r.log.Warn("Webhook for unknown order", "order_token", orderToken)
		return nil, models.OutcomeUnknownOrder, nil
	}
	if err != nil {
		r.log.Error("Failed to look up order", "order_token", orderToken, "error", err)
		return nil, models.OutcomeError, err
	}
	if intent.State.Terminal() {
		r.log.Info("Ignoring event for settled intent", "intent_id", intent.ID, "state", intent.State)
		return intent, models.OutcomeDuplicate, nil
	}
	return intent, "", nil
}

func (r *Reconciler) settle(ctx context.Context, e webhook.OrderPaid) (models.Outcome, *models.PaymentIntent, error) {
	intent, outcome, err := r.lookup(ctx, e.OrderToken)
	if outcome == models.OutcomeDuplicate && intent.State == models.StateFailed {
		// Money arrived for an intent the ledger gave up on; an operator
		// has to refund or grant it.
		r.log.Error("Payment received for failed intent",
			"intent_id", intent.ID, "order_token", e.OrderToken, "failure_reason", intent.FailureReason, "paid", e.Amount.String())
		return models.OutcomeError, intent, fmt.Errorf("payment received for intent %s after it failed (%s)", intent.ID, intent.FailureReason)
	}
	if outcome != "" {
		return outcome, intent, err
	}
	if !e.Amount.IsZero() && !e.Amount.Equal(intent.Amount) {
		r.log.Error("Paid amount does not match intent",
			"intent_id", intent.ID, "expected", intent.Amount.String(), "paid", e.Amount.String())
		return models.OutcomeError, intent, fmt.Errorf("paid amount %s does not match intent amount %s", e.Amount, intent.Amount)
	}
	return r.complete(ctx, intent, []models.State{models.StatePending, models.StateProcessing}, e.PaymentToken)
}

func (r *Reconciler) complete(ctx context.Context, intent *models.PaymentIntent, from []models.State, paymentToken string) (models.Outcome, *models.PaymentIntent, error) {
	settled := r.now()
	updated, applied, err := r.store.Transition(ctx, intent.ID, from, models.StateCompleted, ledger.Patch{
		ExternalPaymentToken: paymentToken,
		SettledAt:            &settled,
	})
	if err != nil {
		r.log.Error("Failed to complete intent", "intent_id", intent.ID, "error", err)
		return models.OutcomeError, intent, err
	}
	if !applied {
		r.log.Info("Intent already settled by a concurrent delivery", "intent_id", intent.ID, "state", updated.State)
		return models.OutcomeDuplicate, updated, nil
	}

	r.log.Info("Payment completed", "intent_id", updated.ID, "order_token", updated.ExternalOrderToken, "amount", updated.Amount.String())
	r.dispatchPayout(ctx, updated.ID)
	return models.OutcomeApplied, updated, nil
}

// dispatchPayout never undoes the settlement; payout failures are tracked
// on the payout state.
func (r *Reconciler) dispatchPayout(ctx context.Context, intentID string) {
	err := r.payouts.Dispatch(ctx, intentID)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrDeferred):
		r.log.Info("Payout queued", "intent_id", intentID)
	default:
		r.log.Error("Payout dispatch failed", "intent_id", intentID, "error", err)
	}
}

func (r *Reconciler) capture(ctx context.Context, e webhook.OrderApproved) (models.Outcome, *models.PaymentIntent, error) {
	if r.capturer == nil {
		return models.OutcomeRejected, nil, errors.New("gateway does not capture approved orders")
	}
	intent, outcome, err := r.lookup(ctx, e.OrderToken)
	if outcome != "" {
		return outcome, intent, err
	}

	marked, applied, err := r.store.Transition(ctx, intent.ID, []models.State{models.StatePending}, models.StateProcessing, ledger.Patch{})
	if err != nil {
		return models.OutcomeError, intent, err
	}
	if !applied {
		return models.OutcomeDuplicate, marked, nil
	}

	c, err := r.capturer.CaptureOrder(ctx, e.OrderToken)
	if err != nil {
		if gateway.IsRetryable(err) {
			// The capture may or may not have happened; the capture
			// completed/denied notification resolves the Processing marker.
			r.log.Error("Capture outcome unknown", "intent_id", intent.ID, "error", err)
			return models.OutcomeError, marked, err
		}
		return r.failFrom(ctx, marked, models.StateProcessing, fmt.Sprintf("capture rejected: %v", err))
	}
	if !c.Completed {
		r.log.Info("Capture pending at gateway", "intent_id", intent.ID, "status", c.Status)
		return models.OutcomeApplied, marked, nil
	}
	return r.complete(ctx, marked, []models.State{models.StateProcessing}, c.PaymentToken)
}

func (r *Reconciler) fail(ctx context.Context, orderToken, reason string) (models.Outcome, *models.PaymentIntent, error) {
	intent, outcome, err := r.lookup(ctx, orderToken)
	if outcome != "" {
		return outcome, intent, err
	}
	return r.failFrom(ctx, intent, intent.State, reason)
}

func (r *Reconciler) failFrom(ctx context.Context, intent *models.PaymentIntent, from models.State, reason string) (models.Outcome, *models.PaymentIntent, error) {
	if reason == "" {
		reason = "payment failed"
	}
	updated, applied, err := r.store.Transition(ctx, intent.ID, []models.State{from}, models.StateFailed, ledger.Patch{
		FailureReason: reason,
		PayoutState:   models.PayoutNotRequired,
	})
	if err != nil {
		r.log.Error("Failed to mark intent failed", "intent_id", intent.ID, "error", err)
		return models.OutcomeError, intent, err
	}
	if !applied {
		return models.OutcomeDuplicate, updated, nil
	}
	r.log.Info("Payment failed", "intent_id", updated.ID, "reason", reason)
	return models.OutcomeApplied, updated, nil
}

func (r *Reconciler) resolvePayout(ctx context.Context, payoutToken, reference string, to models.PayoutState, reason string) (models.Outcome, *models.PaymentIntent, error) {
	intent, err := r.store.GetByPayoutToken(ctx, payoutToken)
	if errors.Is(err, ledger.ErrNotFound) && strings.HasSuffix(reference, payoutReference("")) {
		intent, err = r.store.Get(ctx, strings.TrimSuffix(reference, payoutReference("")))
	}
	if errors.Is(err, ledger.ErrNotFound) {
		r.log.Warn("Payout webhook for unknown payout", "payout_token", payoutToken, "reference", reference)
		return models.OutcomeUnknownOrder, nil, nil
	}
	if err != nil {
		return models.OutcomeError, nil, err
	}
	if intent.PayoutState.Terminal() {
		return models.OutcomeDuplicate, intent, nil
	}

	now := r.now()
	updated, applied, err := r.store.TransitionPayout(ctx, intent.ID, []models.PayoutState{models.PayoutProcessing}, to, ledger.PayoutPatch{
		PayoutToken: payoutToken,
		Reason:      reason,
		PayoutAt:    &now,
	})
	if err != nil {
		return models.OutcomeError, intent, err
	}
	if !applied {
		return models.OutcomeDuplicate, updated, nil
	}
	r.log.Info("Payout resolved", "intent_id", updated.ID, "payout_state", updated.PayoutState, "payout_token", payoutToken)
	return models.OutcomeApplied, updated, nil
}
