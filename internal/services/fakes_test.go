package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/queue"
	"github.com/markjakearzadon/assetvault-gobackend/internal/storage"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFiles map[string]*models.File

func (f fakeFiles) GetFile(_ context.Context, id string) (*models.File, error) {
	file, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("file %s not found", id)
	}
	c := *file
	return &c, nil
}

type fakeUsers map[string]*models.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return u, nil
}

// fakeGateway records calls and plays back configured results.
type fakeGateway struct {
	mu sync.Mutex

	orders    []gateway.OrderRequest
	createErr error

	queryStatus string
	queryErr    error
	queries     int

	captures   int
	capture    *gateway.Capture
	captureErr error

	payouts      []gateway.PayoutRequest
	payoutResult *gateway.PayoutResult
	payoutErr    error
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	token := fmt.Sprintf("ord-%d", len(g.orders))
	return &gateway.Order{OrderToken: token, CheckoutSessionToken: "https://checkout.test/" + token, Status: "PENDING"}, nil
}

func (g *fakeGateway) QueryOrder(_ context.Context, orderToken string) (*gateway.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return &gateway.OrderStatus{
		OrderToken:   orderToken,
		Status:       g.queryStatus,
		Paid:         g.queryStatus == "PAID",
		Closed:       g.queryStatus == "EXPIRED",
		PaymentToken: "pay-" + orderToken,
	}, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, _ string) (*gateway.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	return g.capture, g.captureErr
}

func (g *fakeGateway) Disburse(_ context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payouts = append(g.payouts, req)
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	if g.payoutResult != nil {
		return g.payoutResult, nil
	}
	return &gateway.PayoutResult{PayoutToken: fmt.Sprintf("disb-%d", len(g.payouts)), Status: gateway.PayoutAccepted}, nil
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func (g *fakeGateway) payoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

type fakeSigner struct{ err error }

func (s fakeSigner) SignedURL(_ context.Context, key string) (*storage.Link, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &storage.Link{URL: "https://bucket.test/" + key + "?sig=1", ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

// ticker hands out strictly increasing instants.
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ticker) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

const (
	creatorID = "creator-1"
	payerID   = "payer-1"
)

// harness wires the payment core over the in-memory ledger.
type harness struct {
	store      *ledger.MemoryStore
	files      fakeFiles
	users      fakeUsers
	gw         *fakeGateway
	orders     *OrderService
	payouts    *PayoutService
	reconciler *Reconciler
	access     *AccessService
	refunds    *RefundService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := discardLogger()
	h := &harness{
		store: ledger.NewMemoryStore(),
		files: fakeFiles{
			"paid":    {ID: "paid", CreatorRef: creatorID, Title: "Lecture notes", Price: decimal.NewFromInt(500), IsPublic: true, StorageKey: "blobs/paid"},
			"free":    {ID: "free", CreatorRef: creatorID, Title: "Syllabus", Price: decimal.Zero, IsPublic: true, StorageKey: "blobs/free"},
			"private": {ID: "private", CreatorRef: creatorID, Title: "Drafts", Price: decimal.NewFromInt(100), IsPublic: false, StorageKey: "blobs/private"},
		},
		users: fakeUsers{
			creatorID: {FullName: "Asha Creator", Email: "asha@example.com", PayoutDestination: "asha@upi"},
			payerID:   {FullName: "Ravi Payer", Email: "ravi@example.com"},
		},
		gw: &fakeGateway{},
	}

	clock := &ticker{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.orders = NewOrderService(h.store, h.files, h.users, h.gw, OrderOptions{
		CommissionRate: decimal.RequireFromString("0.10"),
		Currency:       "INR",
		PublicBaseURL:  "https://vault.test",
	}, log)
	h.orders.now = clock.now

	h.payouts = NewPayoutService(h.store, h.users, h.gw, log)
	h.reconciler = NewReconciler(h.store, h.store, webhook.XenditParser{}, h.gw, queue.NewInline(h.payouts.Handle, log), log)
	h.access = NewAccessService(h.store, h.files, fakeSigner{}, "INR", log)
	h.refunds = NewRefundService(h.store, log)
	return h
}

func (h *harness) order(t *testing.T, fileID string) *CheckoutSession {
	t.Helper()
	session, err := h.orders.CreateOrder(context.Background(), fileID, payerID, "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return session
}

func paidCallback(orderToken string, amount string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"external_id":"x","status":"PAID","payment_id":"pay-%s","paid_amount":%s,"currency":"INR"}`, orderToken, orderToken, amount))
}
