package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
	"github.com/xavierca1/lead-market/internal/infra/memstore"
	"github.com/xavierca1/lead-market/internal/infra/queue"
)

var errInventoryDown = errors.New("inventory store unreachable")

// fakeInventory serves leads from memory and records sold markers.
type fakeInventory struct {
	mu          sync.Mutex
	leads       map[string]entity.Lead
	available   map[entity.LeadType][]entity.Lead
	fetchErr    error
	markSoldErr error
	marked      map[string]entity.Tier
	fetches     int
}

func newFakeInventory(leads ...entity.Lead) *fakeInventory {
	inv := &fakeInventory{
		leads:     map[string]entity.Lead{},
		available: map[entity.LeadType][]entity.Lead{},
		marked:    map[string]entity.Tier{},
	}
	for _, l := range leads {
		inv.leads[l.LeadID] = l
	}
	return inv
}

func (f *fakeInventory) FetchLeads(ctx context.Context, keys []entity.LeadKey) (map[string]entity.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := map[string]entity.Lead{}
	for _, k := range keys {
		if l, ok := f.leads[k.String()]; ok {
			out[k.String()] = l
		}
	}
	return out, nil
}

func (f *fakeInventory) MarkSold(ctx context.Context, key entity.LeadKey, tier entity.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSoldErr != nil {
		return f.markSoldErr
	}
	f.marked[key.String()] = tier
	return nil
}

func (f *fakeInventory) ListAvailable(ctx context.Context, t entity.LeadType) ([]entity.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]entity.Lead(nil), f.available[t]...), nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.OrderCompletedPayload
	err      error
}

func (q *fakeQueue) PublishOrderCompleted(ctx context.Context, p queue.OrderCompletedPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads)
}

// MockPaymentProcessor
type MockPaymentProcessor struct {
	mock.Mock
}

func (m *MockPaymentProcessor) LookupPayment(ctx context.Context, id string) (*stripe.PaymentRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentRecord), args.Error(1)
}

func (m *MockPaymentProcessor) Refund(ctx context.Context, in stripe.RefundInput) (*stripe.RefundResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.RefundResult), args.Error(1)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memstore.Store
	inv     *fakeInventory
	queue   *fakeQueue
	ledger  *SuppressionLedger
	fulfill *FulfillOrderUseCase
}

func newFixture(t *testing.T, inv *fakeInventory) *fixture {
	t.Helper()
	store := memstore.New()
	q := &fakeQueue{}
	ledger := NewSuppressionLedger(store.Suppressions())
	ledger.Now = func() time.Time { return fixedNow }
	uc := NewFulfillOrderUseCase(store.Customers(), store.Orders(), store.Carts(), ledger, inv, q, nil)
	uc.Now = func() time.Time { return fixedNow }
	uc.State.Now = func() time.Time { return fixedNow }
	return &fixture{store: store, inv: inv, queue: q, ledger: ledger, fulfill: uc}
}

// seedPending writes a pending order and a cart holding the same leads.
func (f *fixture) seedPending(t *testing.T, keys []string, snapshot []entity.Lead) *entity.Order {
	t.Helper()
	ctx := context.Background()
	pending := entity.NewPendingOrder("Buyer@Example.com", "user-1", "sess-1", keys, snapshot, decimal.RequireFromString("12.50"))
	require.NoError(t, f.store.Orders().CreatePending(ctx, pending))
	for _, k := range keys {
		require.NoError(t, f.store.Carts().Add(ctx, &entity.CartItem{ID: "cart-" + k, UserID: "user-1", LeadKey: k, AddedAt: fixedNow}))
	}
	return pending
}

func confirmation(pendingID string) PaymentConfirmation {
	return PaymentConfirmation{
		EventID:          "evt_1",
		SessionID:        "cs_test1",
		PaymentReference: "pi_test1",
		AmountCents:      1250,
		Currency:         "usd",
		CustomerEmail:    "buyer@example.com",
		CustomerName:     "Pat Buyer",
		PendingOrderID:   pendingID,
	}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), &Actor{ID: "ops", Email: "ops@example.com", Role: RoleAdmin})
}

func lead(key, state string, age int) entity.Lead {
	k, _ := entity.ParseLeadKey(key)
	return entity.Lead{LeadID: key, Type: k.Type, FirstName: "F-" + key, State: state, AgeInDays: age}
}
