package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sakashimaa/media-store/pkg/config"
	"github.com/sakashimaa/media-store/pkg/utils"
	"github.com/sakashimaa/media-store/services/storefront/internal/catalog"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/sakashimaa/media-store/services/storefront/internal/entitlement"
	"github.com/sakashimaa/media-store/services/storefront/internal/metrics"
	"github.com/sakashimaa/media-store/services/storefront/internal/notify"
	"github.com/sakashimaa/media-store/services/storefront/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOrigin  = "https://shop.example.com"
	buyerEmail  = "buyer@example.com"
	commission  = "the-commission"
	nightDrive  = "night-drive"
	contentLink = "https://cdn.example.com/the-commission.zip"
)

type createCall struct {
	Amount      domain.Money
	Description string
	ReferenceID string
}

type fakeGateway struct {
	mu           sync.Mutex
	orders       map[string]*domain.RemoteOrder
	created      []createCall
	captureCalls int
	createErr    error
	getErr       error
	capture      func(order *domain.RemoteOrder) (*domain.CaptureResult, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: make(map[string]*domain.RemoteOrder)}
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount domain.Money, description, referenceID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return "", g.createErr
	}

	g.created = append(g.created, createCall{Amount: amount, Description: description, ReferenceID: referenceID})
	id := fmt.Sprintf("ORDER-%d", len(g.created))
	g.orders[id] = &domain.RemoteOrder{ID: id, Status: "CREATED", Amount: amount, ReferenceID: referenceID}

	return id, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, id string) (*domain.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.getErr != nil {
		return nil, g.getErr
	}

	order, ok := g.orders[id]
	if !ok {
		return nil, fmt.Errorf("get order %s: %w", id, domain.ErrRemoteOrderNotFound)
	}

	cp := *order
	return &cp, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, id string) (*domain.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.captureCalls++

	order, ok := g.orders[id]
	if !ok {
		return nil, fmt.Errorf("capture %s: %w", id, domain.ErrRemoteOrderNotFound)
	}

	if g.capture != nil {
		return g.capture(order)
	}

	return &domain.CaptureResult{
		RemoteOrderID:  id,
		Status:         domain.CaptureCompleted,
		CapturedAmount: order.Amount,
		CaptureID:      "CAP-" + id,
		PaymentMethod:  "paypal",
	}, nil
}

func (g *fakeGateway) captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

type fakeNotifier struct {
	mu        sync.Mutex
	purchases []*notify.Purchase
	ctxErrs   []error
	err       error
}

func (n *fakeNotifier) NotifyPurchase(ctx context.Context, p *notify.Purchase) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	if n.err != nil {
		return n.err
	}
	n.purchases = append(n.purchases, p)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.purchases)
}

type fakeLedger struct {
	mu        sync.Mutex
	purchases map[string]*domain.Purchase
	// beforeSave runs inside Save, before the uniqueness check
	beforeSave func()
	findErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{purchases: make(map[string]*domain.Purchase)}
}

func (l *fakeLedger) Save(_ context.Context, p *domain.Purchase) error {
	if l.beforeSave != nil {
		l.beforeSave()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.purchases[p.RemoteOrderID]; exists {
		return repository.ErrPurchaseExists
	}
	cp := *p
	l.purchases[p.RemoteOrderID] = &cp
	return nil
}

func (l *fakeLedger) FindByRemoteOrderID(_ context.Context, id string) (*domain.Purchase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.findErr != nil {
		return nil, l.findErr
	}
	p, ok := l.purchases[id]
	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeGuard struct {
	mu   sync.Mutex
	used map[string]bool
	err  error
}

func (g *fakeGuard) Consume(_ context.Context, token string, _ time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return false, g.err
	}
	if g.used == nil {
		g.used = make(map[string]bool)
	}
	if g.used[token] {
		return false, nil
	}
	g.used[token] = true
	return true, nil
}

type fixture struct {
	catalog   *catalog.Catalog
	gateway   *fakeGateway
	notifier  *fakeNotifier
	tokens    *entitlement.Service
	purchases PurchaseService
	redeemer  RedemptionService
}

type fixtureOption func(*PurchaseDeps, *repository.RedemptionGuard)

func withLedger(l *fakeLedger) fixtureOption {
	return func(d *PurchaseDeps, _ *repository.RedemptionGuard) { d.Ledger = l }
}

func withGuard(g *fakeGuard) fixtureOption {
	return func(_ *PurchaseDeps, guard *repository.RedemptionGuard) { *guard = g }
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, entitlement.MinKeySize)
}

func newTokenService(t *testing.T, key []byte) *entitlement.Service {
	t.Helper()

	keyring, err := entitlement.NewKeyring(map[string][]byte{"v1": key}, "v1")
	require.NoError(t, err)
	return entitlement.NewService(keyring, entitlement.DefaultTTL)
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cat, err := catalog.FromConfig(config.Catalog{Products: []config.Product{
		{ID: commission, Name: "The Commission", Price: "9.99", Currency: "USD", ContentRef: contentLink},
		{ID: nightDrive, Name: "Night Drive", Price: "4.50", Currency: "USD", ContentRef: "https://cdn.example.com/night-drive.zip"},
	}})
	require.NoError(t, err)

	f := &fixture{
		catalog:  cat,
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		tokens:   newTokenService(t, testKey(1)),
	}

	m := metrics.NewNop()
	logger := zap.NewNop()

	deps := PurchaseDeps{
		Catalog:  f.catalog,
		Gateway:  f.gateway,
		Tokens:   f.tokens,
		Notifier: f.notifier,
		Breaker:  utils.NewBreaker("test-paypal", logger, nil),
		Metrics:  m,
		Origin:   testOrigin + "/",
	}
	var guard repository.RedemptionGuard
	for _, opt := range opts {
		opt(&deps, &guard)
	}

	f.purchases = NewPurchaseService(deps, logger)
	f.redeemer = NewRedemptionService(f.tokens, f.catalog, guard, m, logger)

	return f
}
