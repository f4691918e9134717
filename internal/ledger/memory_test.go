package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

func newIntent(id string, created time.Time) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:               id,
		IdempotencyToken: "idem-" + id,
		FileRef:          "file-1",
		CreatorRef:       "creator-1",
		PayerRef:         "payer-1",
		Amount:           decimal.RequireFromString("500"),
		Currency:         "INR",
		State:            models.StatePending,
		PlatformShare:    decimal.RequireFromString("50"),
		CreatorShare:     decimal.RequireFromString("450"),
		PayoutState:      models.PayoutPending,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestMemoryStore_CreateRejectsDuplicateIdempotencyToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	dup := newIntent("b", time.Now())
	dup.PayerRef = "payer-2"
	dup.IdempotencyToken = "idem-a"
	assert.ErrorIs(t, s.Create(ctx, dup), ErrDuplicate)
}

func TestMemoryStore_OneOpenIntentPerPayer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	assert.ErrorIs(t, s.Create(ctx, newIntent("b", time.Now())), ErrOpenIntent)

	other := newIntent("c", time.Now())
	other.PayerRef = "payer-2"
	require.NoError(t, s.Create(ctx, other))

	_, applied, err := s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateFailed, Patch{FailureReason: "expired"})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, s.Create(ctx, newIntent("b", time.Now())))
}

func TestMemoryStore_AttachOrderOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	got, err := s.AttachOrder(ctx, "a", "inv-1", "https://checkout/inv-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.ExternalOrderToken)

	_, err = s.AttachOrder(ctx, "a", "inv-2", "x")
	assert.ErrorIs(t, err, ErrOrderAttached)

	byToken, err := s.GetByOrderToken(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "a", byToken.ID)
}

func TestMemoryStore_DeleteOnlyUnattachedPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))
	b := newIntent("b", time.Now())
	b.PayerRef = "payer-2"
	require.NoError(t, s.Create(ctx, b))
	_, err := s.AttachOrder(ctx, "b", "inv-b", "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "b"), ErrNotDeletable)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_TransitionIsGuarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	settled := time.Now()
	got, applied, err := s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateCompleted, Patch{
		ExternalPaymentToken: "pay-1",
		SettledAt:            &settled,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Equal(t, "pay-1", got.ExternalPaymentToken)
	require.NotNil(t, got.SettledAt)

	got, applied, err = s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateFailed, Patch{FailureReason: "late"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Empty(t, got.FailureReason)
}

func TestMemoryStore_TransitionRejectsUndocumentedPairs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	_, _, err := s.Transition(ctx, "a", []models.State{models.StateFailed}, models.StateCompleted, Patch{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateRefunded, Patch{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = s.Transition(ctx, "missing", []models.State{models.StatePending}, models.StateFailed, Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentTransitionsApplyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateCompleted, Patch{})
			assert.NoError(t, err)
			if applied {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_TransitionPayout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newIntent("a", time.Now())))

	_, applied, err := s.TransitionPayout(ctx, "a", []models.PayoutState{models.PayoutPending}, models.PayoutProcessing, PayoutPatch{})
	require.NoError(t, err)
	assert.True(t, applied)

	_, applied, err = s.TransitionPayout(ctx, "a", []models.PayoutState{models.PayoutPending}, models.PayoutProcessing, PayoutPatch{})
	require.NoError(t, err)
	assert.False(t, applied)

	now := time.Now()
	got, applied, err := s.TransitionPayout(ctx, "a", []models.PayoutState{models.PayoutProcessing}, models.PayoutCompleted, PayoutPatch{PayoutToken: "disb-1", PayoutAt: &now})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "disb-1", got.PayoutToken)

	byPayout, err := s.GetByPayoutToken(ctx, "disb-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, byPayout.PayoutState)
}

func TestMemoryStore_LatestForPayerAndStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(-time.Hour)

	old := newIntent("old", base)
	old.State = models.StateFailed
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, newIntent("new", base.Add(30*time.Minute))))

	latest, err := s.LatestForPayer(ctx, "file-1", "payer-1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	_, err = s.LatestForPayer(ctx, "file-1", "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)

	stale, err := s.ListStalePending(ctx, base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = s.ListStalePending(ctx, base.Add(40*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "new", stale[0].ID)

	history, err := s.ListByPayer(ctx, "payer-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "new", history[0].ID)
}

func TestMemoryStore_EventLogFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Record(ctx, &models.WebhookEvent{ID: "1", OrderToken: "inv-1", Outcome: models.OutcomeApplied}))
	require.NoError(t, s.Record(ctx, &models.WebhookEvent{ID: "2", OrderToken: "inv-1", Outcome: models.OutcomeDuplicate}))
	require.NoError(t, s.Record(ctx, &models.WebhookEvent{ID: "3", OrderToken: "inv-2", Outcome: models.OutcomeError}))

	errs, err := s.List(ctx, EventFilter{Outcome: models.OutcomeError})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "3", errs[0].ID)

	forOrder, err := s.List(ctx, EventFilter{OrderToken: "inv-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, forOrder, 1)
	assert.Equal(t, "2", forOrder[0].ID)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatePending, models.StateCompleted))
	assert.True(t, CanTransition(models.StatePending, models.StateProcessing))
	assert.True(t, CanTransition(models.StateProcessing, models.StateFailed))
	assert.True(t, CanTransition(models.StateCompleted, models.StateRefunded))
	assert.False(t, CanTransition(models.StateFailed, models.StateCompleted))
	assert.False(t, CanTransition(models.StateRefunded, models.StateCompleted))
	assert.False(t, CanTransition(models.StateCompleted, models.StateFailed))
}
