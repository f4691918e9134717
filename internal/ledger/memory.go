package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

var (
	_ Store    = (*MemoryStore)(nil)
	_ EventLog = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Store and EventLog used by tests and local
// runs without Mongo.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*models.PaymentIntent
	events  []models.WebhookEvent
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*models.PaymentIntent),
		now:     time.Now,
	}
}

func clone(p *models.PaymentIntent) *models.PaymentIntent {
	c := *p
	if p.SettledAt != nil {
		t := *p.SettledAt
		c.SettledAt = &t
	}
	if p.PayoutAt != nil {
		t := *p.PayoutAt
		c.PayoutAt = &t
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicate, intent.ID)
	}
	for _, p := range s.intents {
		if p.IdempotencyToken == intent.IdempotencyToken {
			return fmt.Errorf("%w: idempotency token %s", ErrDuplicate, intent.IdempotencyToken)
		}
	}
	if intent.State == models.StatePending {
		for _, p := range s.intents {
			if p.State == models.StatePending && p.FileRef == intent.FileRef && p.PayerRef == intent.PayerRef {
				return fmt.Errorf("%w: %s", ErrOpenIntent, p.ID)
			}
		}
	}
	s.intents[intent.ID] = clone(intent)
	return nil
}

func (s *MemoryStore) AttachOrder(_ context.Context, id, orderToken, checkoutToken string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ExternalOrderToken != "" {
		return nil, ErrOrderAttached
	}
	for _, other := range s.intents {
		if other.ExternalOrderToken == orderToken {
			return nil, fmt.Errorf("%w: order token %s", ErrDuplicate, orderToken)
		}
	}
	p.ExternalOrderToken = orderToken
	p.CheckoutSessionToken = checkoutToken
	p.UpdatedAt = s.now()
	return clone(p), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return ErrNotFound
	}
	if p.State != models.StatePending || p.ExternalOrderToken != "" {
		return ErrNotDeletable
	}
	delete(s.intents, id)
	return nil
}

func (s *MemoryStore) find(match func(*models.PaymentIntent) bool) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.intents {
		if match(p) {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) GetByOrderToken(_ context.Context, orderToken string) (*models.PaymentIntent, error) {
	if orderToken == "" {
		return nil, ErrNotFound
	}
	return s.find(func(p *models.PaymentIntent) bool { return p.ExternalOrderToken == orderToken })
}

func (s *MemoryStore) GetByIdempotencyToken(_ context.Context, token string) (*models.PaymentIntent, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.find(func(p *models.PaymentIntent) bool { return p.IdempotencyToken == token })
}

func (s *MemoryStore) GetByPayoutToken(_ context.Context, payoutToken string) (*models.PaymentIntent, error) {
	if payoutToken == "" {
		return nil, ErrNotFound
	}
	return s.find(func(p *models.PaymentIntent) bool { return p.PayoutToken == payoutToken })
}

func (s *MemoryStore) LatestForPayer(_ context.Context, fileRef, payerRef string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.PaymentIntent
	for _, p := range s.intents {
		if p.FileRef != fileRef || p.PayerRef != payerRef {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clone(latest), nil
}

func (s *MemoryStore) ListByPayer(_ context.Context, payerRef string) ([]models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PaymentIntent
	for _, p := range s.intents {
		if p.PayerRef == payerRef {
			out = append(out, *clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PaymentIntent
	for _, p := range s.intents {
		if p.State == models.StatePending && p.CreatedAt.Before(olderThan) {
			out = append(out, *clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from []models.State, to models.State, patch Patch) (*models.PaymentIntent, bool, error) {
	if !validTransition(from, to) {
		return nil, false, fmt.Errorf("%w: %v -> %s", ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !slices.Contains(from, p.State) {
		return clone(p), false, nil
	}
	applyPatch(p, to, patch, s.now())
	return clone(p), true, nil
}

func (s *MemoryStore) TransitionPayout(_ context.Context, id string, from []models.PayoutState, to models.PayoutState, patch PayoutPatch) (*models.PaymentIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !slices.Contains(from, p.PayoutState) {
		return clone(p), false, nil
	}
	applyPayoutPatch(p, to, patch, s.now())
	return clone(p), true, nil
}

func (s *MemoryStore) Record(_ context.Context, event *models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter EventFilter) ([]models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WebhookEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.Outcome != "" && e.Outcome != filter.Outcome {
			continue
		}
		if filter.OrderToken != "" && e.OrderToken != filter.OrderToken {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
