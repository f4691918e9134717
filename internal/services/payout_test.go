package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

// completedIntent stores an intent that has already been settled.
func completedIntent(t *testing.T, store ledger.Store, id string, creatorShare decimal.Decimal) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &models.PaymentIntent{
		ID:               id,
		IdempotencyToken: "idem-" + id,
		FileRef:          "paid",
		CreatorRef:       creatorID,
		PayerRef:         payerID,
		Amount:           decimal.NewFromInt(500),
		Currency:         "INR",
		State:            models.StateCompleted,
		PlatformShare:    decimal.NewFromInt(500).Sub(creatorShare),
		CreatorShare:     creatorShare,
		PayoutState:      models.PayoutPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		SettledAt:        &now,
	}))
}

func TestSchedule_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     *gateway.PayoutResult
		err        error
		wantState  models.PayoutState
		wantToken  string
		wantReason string
		wantErr    bool
	}{
		{
			name:      "accepted stays processing until webhook",
			result:    &gateway.PayoutResult{PayoutToken: "disb-a", Status: gateway.PayoutAccepted},
			wantState: models.PayoutProcessing,
			wantToken: "disb-a",
		},
		{
			name:      "completed synchronously",
			result:    &gateway.PayoutResult{PayoutToken: "disb-c", Status: gateway.PayoutCompleted},
			wantState: models.PayoutCompleted,
			wantToken: "disb-c",
		},
		{
			name:       "denied by gateway",
			result:     &gateway.PayoutResult{PayoutToken: "disb-d", Status: gateway.PayoutFailed},
			wantState:  models.PayoutFailed,
			wantToken:  "disb-d",
			wantReason: "rejected by gateway",
		},
		{
			name:       "api error",
			err:        apperr.New(apperr.KindGatewayRejected, "insufficient balance"),
			wantState:  models.PayoutFailed,
			wantReason: "insufficient balance",
			wantErr:    true,
		},
		{
			name:      "timeout leaves outcome to webhook",
			err:       apperr.Wrap(apperr.KindGatewayUnavailable, context.DeadlineExceeded, "disbursement timed out"),
			wantState: models.PayoutProcessing,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.gw.payoutResult = tt.result
			h.gw.payoutErr = tt.err
			completedIntent(t, h.store, "pi-1", decimal.NewFromInt(450))

			token, err := h.payouts.Schedule(ctx, "pi-1")
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, PayoutRetryable(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantToken, token)
			}

			intent, err := h.store.Get(ctx, "pi-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, intent.PayoutState)
			assert.Equal(t, tt.wantToken, intent.PayoutToken)
			assert.Equal(t, tt.wantReason, intent.PayoutReason)
			assert.Equal(t, models.StateCompleted, intent.State)
		})
	}
}

func TestSchedule_DestinationMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.users[creatorID].PayoutDestination = ""
	completedIntent(t, h.store, "pi-1", decimal.NewFromInt(450))

	_, err := h.payouts.Schedule(ctx, "pi-1")
	assert.ErrorIs(t, err, apperr.ErrDestinationMissing)
	assert.False(t, PayoutRetryable(err))
	assert.Zero(t, h.gw.payoutCount())

	intent, err := h.store.Get(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutFailed, intent.PayoutState)
	assert.Equal(t, "DestinationMissing", intent.PayoutReason)
}

func TestSchedule_ZeroShareNeedsNoPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	completedIntent(t, h.store, "pi-1", decimal.Zero)

	_, err := h.payouts.Schedule(ctx, "pi-1")
	require.NoError(t, err)

	intent, err := h.store.Get(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutNotRequired, intent.PayoutState)
	assert.Zero(t, h.gw.payoutCount())
}

func TestSchedule_RunsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	completedIntent(t, h.store, "pi-1", decimal.NewFromInt(450))

	first, err := h.payouts.Schedule(ctx, "pi-1")
	require.NoError(t, err)
	second, err := h.payouts.Schedule(ctx, "pi-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.gw.payoutCount())
	assert.Equal(t, "pi-1-payout", h.gw.payouts[0].Reference)
}

func TestSchedule_RequiresCompletedIntent(t *testing.T) {
	h := newHarness(t)
	session := h.order(t, "paid")

	_, err := h.payouts.Schedule(context.Background(), session.IntentID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.payouts.Schedule(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, h.gw.payoutCount())
}

func TestPayoutRetryable(t *testing.T) {
	assert.True(t, PayoutRetryable(assert.AnError))
	assert.False(t, PayoutRetryable(apperr.Conflict("done")))
	assert.False(t, PayoutRetryable(gateway.ErrUnavailable))
}

func TestSchedule_TimeoutResolvedByPayoutWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.payoutErr = apperr.Wrap(apperr.KindGatewayUnavailable, context.DeadlineExceeded, "disbursement timed out")
	completedIntent(t, h.store, "pi-1", decimal.NewFromInt(450))

	_, err := h.payouts.Schedule(ctx, "pi-1")
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	intent, err := h.store.Get(ctx, "pi-1")
	require.NoError(t, err)
	require.Equal(t, models.PayoutProcessing, intent.PayoutState)

	// A redelivered dispatch must not send a second disbursement.
	_, err = h.payouts.Schedule(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.payoutCount())

	outcome, updated, err := h.reconciler.Apply(ctx, webhook.PayoutSucceeded{PayoutToken: "disb-late", Reference: "pi-1-payout"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, models.PayoutCompleted, updated.PayoutState)
	assert.Equal(t, "disb-late", updated.PayoutToken)
}
