package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

const (
	reasonExpired  = "expired"
	sweepBatchSize = 100
)

// Settler applies a synthesized gateway event. *Reconciler implements it.
type Settler interface {
	Apply(ctx context.Context, ev webhook.Event) (models.Outcome, *models.PaymentIntent, error)
}

// Sweeper fails Pending intents whose gateway order was never paid. Before
// expiring an intent it asks the gateway: orders still open are left
// alone and orders already paid are settled through settler.
type Sweeper struct {
	store    ledger.Store
	orders   gateway.OrderGateway
	settler  Settler
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewSweeper builds a Sweeper. orders and settler may be nil, in which case
// every stale intent is expired without asking the gateway.
func NewSweeper(store ledger.Store, orders gateway.OrderGateway, settler Settler, ttl, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		orders:   orders,
		settler:  settler,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		log:      log.With("service", "sweeper"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", "ttl", s.ttl, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("Sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires stale Pending intents and returns how many it moved. An
// intent settled concurrently is left alone by the guarded transition.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	expired := 0
	// Intents left Pending stay in the listing, so each round asks for
	// enough rows to get past the ones already skipped.
	skipped := make(map[string]bool)
	for {
		limit := sweepBatchSize + len(skipped)
		stale, err := s.store.ListStalePending(ctx, cutoff, limit)
		if err != nil {
			return expired, err
		}
		for i := range stale {
			p := &stale[i]
			if skipped[p.ID] {
				continue
			}
			ok, err := s.expire(ctx, p)
			if err != nil {
				return expired, err
			}
			if ok {
				expired++
			} else {
				skipped[p.ID] = true
			}
		}
		if len(stale) < limit {
			return expired, nil
		}
	}
}

// expire fails p unless its gateway order is still open or already paid.
// A paid order is settled instead. false means p stays Pending for now.
func (s *Sweeper) expire(ctx context.Context, p *models.PaymentIntent) (bool, error) {
	check, status, err := checkOrder(ctx, s.orders, p)
	if err != nil {
		s.log.Warn("Cannot check order before expiry", "intent_id", p.ID, "order_token", p.ExternalOrderToken, "error", err)
		return false, nil
	}
	switch check {
	case orderOpen:
		s.log.Info("Order still open at gateway", "intent_id", p.ID, "order_token", p.ExternalOrderToken, "status", status.Status)
		return false, nil
	case orderPaid:
		s.settle(ctx, p, status)
		return false, nil
	}

	_, applied, err := s.store.Transition(ctx, p.ID, []models.State{models.StatePending}, models.StateFailed, ledger.Patch{
		FailureReason: reasonExpired,
		PayoutState:   models.PayoutNotRequired,
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Info("Expired pending intent", "intent_id", p.ID, "order_token", p.ExternalOrderToken, "created_at", p.CreatedAt)
	}
	return applied, nil
}

// settle completes an intent whose paid callback never arrived.
func (s *Sweeper) settle(ctx context.Context, p *models.PaymentIntent, status *gateway.OrderStatus) {
	if s.settler == nil {
		s.log.Warn("Order paid at gateway, awaiting callback", "intent_id", p.ID, "order_token", p.ExternalOrderToken)
		return
	}
	outcome, _, err := s.settler.Apply(ctx, webhook.OrderPaid{
		OrderToken:   p.ExternalOrderToken,
		PaymentToken: status.PaymentToken,
	})
	if err != nil {
		s.log.Error("Failed to settle paid order", "intent_id", p.ID, "order_token", p.ExternalOrderToken, "error", err)
		return
	}
	s.log.Info("Settled paid order found by sweep", "intent_id", p.ID, "order_token", p.ExternalOrderToken, "outcome", outcome)
}
