package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

func TestCreateOrder_SplitsCommissionAtCreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orders.CreateOrder(ctx, "paid", payerID, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", session.OrderToken)
	assert.Equal(t, "https://checkout.test/ord-1", session.CheckoutSessionToken)
	assert.Equal(t, models.StatePending, session.State)

	intent, err := h.store.Get(ctx, session.IntentID)
	require.NoError(t, err)
	assert.Equal(t, "500", intent.Amount.String())
	assert.Equal(t, "50", intent.PlatformShare.String())
	assert.Equal(t, "450", intent.CreatorShare.String())
	assert.Equal(t, models.PayoutPending, intent.PayoutState)
	assert.Equal(t, creatorID, intent.CreatorRef)
	assert.Equal(t, "fake", intent.Gateway)

	require.Len(t, h.gw.orders, 1)
	req := h.gw.orders[0]
	assert.Equal(t, intent.ID, req.IntentID)
	assert.Equal(t, "idem-1", req.IdempotencyToken)
	assert.Equal(t, "ravi@example.com", req.PayerEmail)
	assert.Contains(t, req.ReturnURL, "https://vault.test/")
}

func TestCreateOrder_RollsBackWhenGatewayFails(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", gateway.ErrUnavailable, apperr.ErrGatewayUnavailable},
		{"rejected", apperr.Wrap(apperr.KindGatewayRejected, nil, "amount too low"), apperr.ErrGatewayRejected},
		{"auth mismatch", gateway.ErrAuthMismatch, apperr.ErrGatewayAuthMismatch},
		{"unclassified", assert.AnError, apperr.ErrGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.gw.createErr = tt.err

			_, err := h.orders.CreateOrder(context.Background(), "paid", payerID, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			intents, err := h.store.ListByPayer(context.Background(), payerID)
			require.NoError(t, err)
			assert.Empty(t, intents, "no Pending intent may outlive a failed order")
		})
	}
}

func TestCreateOrder_ReplaysIdempotencyToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orders.CreateOrder(ctx, "paid", payerID, "idem-1")
	require.NoError(t, err)
	second, err := h.orders.CreateOrder(ctx, "paid", payerID, "idem-1")
	require.NoError(t, err)

	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, first.OrderToken, second.OrderToken)
	assert.Equal(t, 1, h.gw.orderCount())

	_, err = h.orders.CreateOrder(ctx, "free", payerID, "idem-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateOrder_ReusesOpenOrder(t *testing.T) {
	h := newHarness(t)
	first := h.order(t, "paid")
	second := h.order(t, "paid")
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, 1, h.gw.orderCount())
}

func TestCreateOrder_ConcurrentRequestsOpenOneOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const requests = 8
	sessions := make([]*CheckoutSession, requests)
	errs := make([]error, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions[i], errs[i] = h.orders.CreateOrder(ctx, "paid", payerID, "")
		}()
	}
	wg.Wait()

	intents, err := h.store.ListByPayer(ctx, payerID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 1, h.gw.orderCount())

	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], apperr.ErrConflict)
			continue
		}
		assert.Equal(t, intents[0].ID, sessions[i].IntentID)
	}
}

func TestCreateOrder_OrderLifetime(t *testing.T) {
	h := newHarness(t)
	h.orders.opts.PendingTTL = 48 * time.Hour
	h.order(t, "paid")

	require.Len(t, h.gw.orders, 1)
	assert.Equal(t, 36*time.Hour, h.gw.orders[0].Expiry)
}

func TestCreateOrder_PastLifetimeAsksGateway(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		queryErr   error
		wantErr    error
		wantReuse  bool
		wantOrders int
	}{
		{name: "still open is reused", status: "PENDING", wantReuse: true, wantOrders: 1},
		{name: "expired is replaced", status: "EXPIRED", wantOrders: 2},
		{name: "paid awaits callback", status: "PAID", wantErr: apperr.ErrConflict, wantOrders: 1},
		{name: "gateway down", queryErr: gateway.ErrUnavailable, wantErr: apperr.ErrGatewayUnavailable, wantOrders: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.orders.opts.PendingTTL = 48 * time.Hour
			first := h.order(t, "paid")

			later := time.Date(2026, 1, 2, 13, 0, 0, 0, time.UTC)
			h.orders.now = func() time.Time { return later }
			h.gw.queryStatus = tt.status
			h.gw.queryErr = tt.queryErr

			session, err := h.orders.CreateOrder(ctx, "paid", payerID, "")
			assert.Equal(t, tt.wantOrders, h.gw.orderCount())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantReuse {
				assert.Equal(t, first.IntentID, session.IntentID)
				return
			}
			assert.NotEqual(t, first.IntentID, session.IntentID)

			old, err := h.store.Get(ctx, first.IntentID)
			require.NoError(t, err)
			assert.Equal(t, models.StateFailed, old.State)
			assert.Equal(t, "expired", old.FailureReason)
		})
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		payer string
		want  error
	}{
		{"unknown file", "missing", payerID, apperr.ErrNotFound},
		{"private file", "private", payerID, apperr.ErrValidation},
		{"free file", "free", payerID, apperr.ErrValidation},
		{"creator buys own file", "paid", creatorID, apperr.ErrConflict},
		{"no payer", "paid", "", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.orders.CreateOrder(context.Background(), tt.file, tt.payer, "")
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, h.gw.orderCount())
		})
	}
}

func TestCreateOrder_AlreadyPurchased(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.order(t, "paid")

	rec := h.reconciler.Ingest(ctx, nil, paidCallback(session.OrderToken, "500"))
	require.Equal(t, models.OutcomeApplied, rec.Outcome)

	_, err := h.orders.CreateOrder(ctx, "paid", payerID, "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.order(t, "paid")

	view, err := h.orders.Status(ctx, session.OrderToken, payerID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, view.State)
	assert.Equal(t, "500", view.Amount.String())
	assert.Nil(t, view.SettledAt)
	assert.Empty(t, view.GatewayStatus)

	_, err = h.orders.Status(ctx, session.OrderToken, creatorID, false)
	assert.NoError(t, err)

	_, err = h.orders.Status(ctx, session.OrderToken, "stranger", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.orders.Status(ctx, "ord-unknown", payerID, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	h.gw.queryStatus = "PAID"
	view, err = h.orders.Status(ctx, session.OrderToken, payerID, true)
	require.NoError(t, err)
	assert.Equal(t, "PAID", view.GatewayStatus)
	assert.Equal(t, models.StatePending, view.State, "refresh must not write the ledger")

	h.reconciler.Ingest(ctx, nil, paidCallback(session.OrderToken, "500"))
	view, err = h.orders.Status(ctx, session.OrderToken, payerID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, view.State)
	assert.NotNil(t, view.SettledAt)
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	h.order(t, "paid")

	history, err := h.orders.History(context.Background(), payerID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "paid", history[0].FileRef)
}
