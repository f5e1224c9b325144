package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xavierca1/lead-market/internal/entity"
)

var threeLeadCart = []string{"final_expense_10", "final_expense_11", "life_4"}

func threeLeadInventory() *fakeInventory {
	return newFakeInventory(
		lead("final_expense_10", "TX", 2),
		lead("final_expense_11", "FL", 20),
		lead("life_4", "OH", 120),
	)
}

func TestFulfillThreeLeadCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.False(t, report.Degraded)
	assert.Equal(t, 3, report.LeadCount)
	assert.Equal(t, 3, report.SuppressedLeads)

	order, err := f.store.Orders().FindCompletedByPaymentReference(ctx, "pi_test1")
	require.NoError(t, err)
	assert.Equal(t, report.OrderID, order.ID)
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, threeLeadCart, order.LeadsPurchased)
	require.Len(t, order.LeadDataSnapshot, 3)
	assert.Equal(t, "F-life_4", order.LeadDataSnapshot[2].FirstName)
	assert.Equal(t, "buyer@example.com", order.CustomerEmail)
	assert.NoError(t, order.ValidateCompleted())

	recs, err := f.store.Suppressions().ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	tiers := map[string]entity.Tier{}
	for _, r := range recs {
		tiers[r.LeadKey] = r.Tier
	}
	assert.Equal(t, map[string]entity.Tier{
		"final_expense_10": entity.Tier1,
		"final_expense_11": entity.Tier3,
		"life_4":           entity.Tier5,
	}, tiers)
	assert.Equal(t, tiers, f.inv.marked)

	_, err = f.store.Orders().FindByID(ctx, pending.ID)
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)

	cart, err := f.store.Carts().ListByOwner(ctx, entity.CartOwner{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, cart)

	require.Equal(t, 1, f.queue.count())
	assert.Equal(t, int64(1250), f.queue.payloads[0].TotalCents)
	assert.Equal(t, OriginPaymentWebhook, f.queue.payloads[0].Origin)
}

func TestDuplicateDeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)

	first, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)

	second, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, second.Outcome)
	assert.Equal(t, ReasonDuplicatePayment, second.Reason)
	assert.Equal(t, first.OrderID, second.OrderID)

	recs, err := f.store.Suppressions().ListByOrder(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, 1, f.queue.count())
	assert.Equal(t, 1, f.inv.fetches)
}

func TestConcurrentDeliveriesCompleteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)

	const n = 12
	reports := make([]*FulfillmentReport, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, r := range reports {
		require.NotNil(t, r)
		switch r.Outcome {
		case OutcomeCompleted:
			completed++
		case OutcomeAlreadyProcessed:
		default:
			t.Fatalf("unexpected outcome %s", r.Outcome)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.queue.count())

	got, err := f.store.Orders().FindCompletedByPaymentReference(ctx, "pi_test1")
	require.NoError(t, err)
	recs, err := f.store.Suppressions().ListByOrder(ctx, got.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestInventoryDownFallsBackToPendingSnapshot(t *testing.T) {
	ctx := context.Background()
	inv := newFakeInventory()
	inv.fetchErr = errInventoryDown
	inv.markSoldErr = errInventoryDown
	f := newFixture(t, inv)

	snapshot := []entity.Lead{
		{LeadID: "final_expense_10", Type: entity.LeadTypeFinalExpense, FirstName: "Ann", ExternalID: "20240220-1"},
		{LeadID: "life_4", Type: entity.LeadTypeLife, FirstName: "Bo", AgeInDays: 45},
	}
	pending := f.seedPending(t, []string{"final_expense_10", "final_expense_11", "life_4"}, snapshot)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.True(t, report.Degraded)
	step, ok := report.Step(StepAssemble)
	require.True(t, ok)
	assert.Equal(t, StepFailed, step.Status)
	assert.ElementsMatch(t, []string{"final_expense_10", "final_expense_11", "life_4"}, report.MarkSoldFailures)

	order, err := f.store.Orders().FindByID(ctx, report.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", order.LeadDataSnapshot[0].FirstName)
	assert.Equal(t, 10, order.LeadDataSnapshot[0].AgeInDays)
	assert.Equal(t, entity.LeadTypeFinalExpense, order.LeadDataSnapshot[1].Type)
	assert.Equal(t, "Bo", order.LeadDataSnapshot[2].FirstName)

	// The ledger is authoritative even when the sold markers could not be written.
	recs, err := f.store.Suppressions().ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestSnapshotIsNotRewrittenByLaterInventoryChanges(t *testing.T) {
	ctx := context.Background()
	inv := threeLeadInventory()
	f := newFixture(t, inv)
	pending := f.seedPending(t, threeLeadCart, nil)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)

	inv.leads["life_4"] = lead("life_4", "CA", 1)
	_, err = f.fulfill.ResumeSuppression(ctx, mustFind(t, f, report.OrderID))
	require.NoError(t, err)

	order := mustFind(t, f, report.OrderID)
	assert.Equal(t, "OH", order.LeadDataSnapshot[2].State)
}

func TestResumeSuppressionRequiresCompletedOrder(t *testing.T) {
	f := newFixture(t, newFakeInventory())
	pending := f.seedPending(t, []string{"life_4"}, nil)

	_, err := f.fulfill.ResumeSuppression(context.Background(), pending)
	assert.ErrorIs(t, err, entity.ErrOrderNotCompleted)
}

func TestFulfillUnknownPendingOrder(t *testing.T) {
	f := newFixture(t, newFakeInventory())

	report, err := f.fulfill.Execute(context.Background(), FromPaymentEvent(confirmation("missing")))
	assert.ErrorIs(t, err, ErrDataNotFound)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Zero(t, f.queue.count())
}

func TestFulfillRejectsIncompleteConfirmation(t *testing.T) {
	f := newFixture(t, newFakeInventory())
	p := confirmation("")
	p.PaymentReference = ""

	_, err := f.fulfill.Execute(context.Background(), FromPaymentEvent(p))
	require.ErrorIs(t, err, ErrValidation)

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Details, "payment_intent")
	assert.Contains(t, de.Details, "temp_order_id")
}

func TestOrderInProgressStandsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)
	_, won, err := f.store.Orders().ClaimPending(ctx, pending.ID, fixedNow)
	require.NoError(t, err)
	require.True(t, won)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, report.Outcome)
	assert.Equal(t, ReasonInProgress, report.Reason)

	report, err = f.fulfill.Execute(ctx, FromStuckOrder(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
}

func TestRecordSaleTwiceForSameOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeInventory())
	key := entity.NewLeadKey(entity.LeadTypeLife, 4)

	first, err := f.ledger.RecordSale(ctx, key, 10, "order-1")
	require.NoError(t, err)
	second, err := f.ledger.RecordSale(ctx, key, 10, "order-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	recs, err := f.store.Suppressions().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	removed, err := f.ledger.Unsuppress(ctx, key, "order-2")
	require.NoError(t, err)
	assert.False(t, removed)
	sold, err := f.ledger.IsSuppressed(ctx, key)
	require.NoError(t, err)
	assert.True(t, sold)
}

func mustFind(t *testing.T, f *fixture, id string) *entity.Order {
	t.Helper()
	o, err := f.store.Orders().FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestMalformedLeadKeyRejectedBeforeClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeInventory(lead("life_4", "TX", 3)))
	pending := f.seedPending(t, []string{"life_4", "bogus_1"}, nil)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "bogus_1", de.Details["lead_key"])

	got := mustFind(t, f, pending.ID)
	assert.Equal(t, entity.OrderPending, got.Status)
	assert.Nil(t, got.ClaimedAt)
	sold, err := f.store.Suppressions().ExistsForLead(ctx, "life_4")
	require.NoError(t, err)
	assert.False(t, sold)
	_, err = f.store.Orders().FindCompletedByPaymentReference(ctx, "pi_test1")
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestPendingOrderWithoutLeadsRejected(t *testing.T) {
	f := newFixture(t, newFakeInventory())
	pending := f.seedPending(t, nil, nil)

	_, err := f.fulfill.Execute(context.Background(), FromPaymentEvent(confirmation(pending.ID)))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, entity.OrderPending, mustFind(t, f, pending.ID).Status)
}

type failingCustomers struct {
	entity.CustomerRepositoryInterface
	err error
}

func (c *failingCustomers) FindByEmail(ctx context.Context, email string) (*entity.Customer, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.CustomerRepositoryInterface.FindByEmail(ctx, email)
}

func TestFailureAfterClaimPointsAtRecoverStuck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeInventory(lead("life_4", "TX", 3)))
	customers := &failingCustomers{CustomerRepositoryInterface: f.store.Customers(), err: errors.New("connection reset")}
	f.fulfill.Customers = customers
	pending := f.seedPending(t, []string{"life_4"}, nil)

	report, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, "leadsctl recover-stuck --order-id "+pending.ID+" --payment-intent-id pi_test1", report.Recovery)
	assert.Equal(t, entity.OrderProcessing, mustFind(t, f, pending.ID).Status)

	redelivery, err := f.fulfill.Execute(ctx, FromPaymentEvent(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, redelivery.Outcome)
	assert.Equal(t, ReasonInProgress, redelivery.Reason)

	customers.err = nil
	done, err := f.fulfill.Execute(ctx, FromStuckOrder(confirmation(pending.ID)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, done.Outcome)
	assert.Empty(t, done.Recovery)
	sold, err := f.store.Suppressions().ExistsForLead(ctx, "life_4")
	require.NoError(t, err)
	assert.True(t, sold)
}
