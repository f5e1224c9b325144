package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
)

func succeededPayment(pendingID string) *stripe.PaymentRecord {
	return &stripe.PaymentRecord{
		PaymentIntentID: "pi_test1",
		SessionID:       "cs_test1",
		AmountCents:     1250,
		Currency:        "usd",
		Status:          "succeeded",
		CustomerEmail:   "buyer@example.com",
		CustomerName:    "Pat Buyer",
		PendingOrderID:  pendingID,
	}
}

func TestRecoverFromPaymentCompletesOrder(t *testing.T) {
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)
	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_test1").Return(succeededPayment(pending.ID), nil)
	uc := NewRecoverFromPaymentUseCase(f.store.Orders(), payments, f.fulfill, nil)

	report, err := uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: " pi_test1 "})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, OriginAdminRecovery, report.Source)
	assert.Equal(t, 3, report.SuppressedLeads)

	crm, _ := report.Step(StepCRM)
	assert.Equal(t, StepSkipped, crm.Status)
	assert.Zero(t, f.queue.count())

	again, err := uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_test1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
	assert.Equal(t, report.OrderID, again.OrderID)
	payments.AssertNumberOfCalls(t, "LookupPayment", 1)
}

func TestRecoverFromPaymentNeedsManualRecovery(t *testing.T) {
	cases := map[string]string{
		"no pending reference":  "",
		"pending order deleted": "gone",
	}
	for name, pendingID := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newFakeInventory())
			payments := new(MockPaymentProcessor)
			payments.On("LookupPayment", mock.Anything, "pi_test1").Return(succeededPayment(pendingID), nil)
			uc := NewRecoverFromPaymentUseCase(f.store.Orders(), payments, f.fulfill, nil)

			_, err := uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_test1"})
			require.ErrorIs(t, err, ErrManualRecoveryNeeded)

			var de *DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, CodeManualRecovery, de.Code)
			assert.Equal(t, int64(1250), de.Details["amount_cents"])
			assert.Equal(t, "buyer@example.com", de.Details["customer_email"])
		})
	}
}

func TestRecoverFromPaymentProcessorErrors(t *testing.T) {
	f := newFixture(t, newFakeInventory())
	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_missing").Return(nil, stripe.ErrPaymentNotFound)
	payments.On("LookupPayment", mock.Anything, "pi_flaky").Return(nil, errors.New("502 bad gateway"))
	uc := NewRecoverFromPaymentUseCase(f.store.Orders(), payments, f.fulfill, nil)

	_, err := uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_missing"})
	assert.ErrorIs(t, err, ErrDataNotFound)

	_, err = uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_flaky"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "ch_123"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = uc.Execute(context.Background(), RecoverFromPaymentInput{PaymentIntentID: "pi_missing"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRecoverStuckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeLeadInventory())
	pending := f.seedPending(t, threeLeadCart, nil)
	_, won, err := f.store.Orders().ClaimPending(ctx, pending.ID, fixedNow)
	require.NoError(t, err)
	require.True(t, won)

	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_test1").Return(succeededPayment(""), nil)
	uc := NewRecoverStuckOrderUseCase(f.store.Orders(), payments, f.fulfill, nil)

	report, err := uc.Execute(adminCtx(), RecoverStuckOrderInput{OrderID: pending.ID, PaymentIntentID: "pi_test1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, OriginStuckRecovery, report.Source)
	assert.Equal(t, 1, f.queue.count())

	_, err = f.store.Orders().FindByID(ctx, pending.ID)
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestRecoverStuckOrderChecksPayment(t *testing.T) {
	f := newFixture(t, newFakeInventory())
	pending := f.seedPending(t, []string{"life_4"}, nil)

	unpaid := succeededPayment(pending.ID)
	unpaid.Status = "requires_payment_method"
	otherOrder := succeededPayment("another-order")

	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_unpaid").Return(unpaid, nil)
	payments.On("LookupPayment", mock.Anything, "pi_other").Return(otherOrder, nil)
	uc := NewRecoverStuckOrderUseCase(f.store.Orders(), payments, f.fulfill, nil)

	_, err := uc.Execute(adminCtx(), RecoverStuckOrderInput{OrderID: pending.ID, PaymentIntentID: "pi_unpaid"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = uc.Execute(adminCtx(), RecoverStuckOrderInput{OrderID: pending.ID, PaymentIntentID: "pi_other"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = uc.Execute(adminCtx(), RecoverStuckOrderInput{OrderID: "missing", PaymentIntentID: "pi_other"})
	assert.ErrorIs(t, err, ErrDataNotFound)
}

func TestRecoverFromPaymentRequiresSucceededPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeInventory(lead("life_4", "TX", 3)))
	pending := f.seedPending(t, []string{"life_4"}, nil)

	unpaid := succeededPayment(pending.ID)
	unpaid.Status = "requires_payment_method"
	unpaid.AmountCents = 0
	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_test1").Return(unpaid, nil)
	uc := NewRecoverFromPaymentUseCase(f.store.Orders(), payments, f.fulfill, nil)

	_, err := uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_test1"})
	require.ErrorIs(t, err, ErrValidation)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "requires_payment_method", de.Details["status"])

	got := mustFind(t, f, pending.ID)
	assert.Equal(t, entity.OrderPending, got.Status)
	_, err = f.store.Orders().FindCompletedByPaymentReference(ctx, "pi_test1")
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
	sold, err := f.store.Suppressions().ExistsForLead(ctx, "life_4")
	require.NoError(t, err)
	assert.False(t, sold)
	assert.Zero(t, f.queue.count())
}

func TestRecoverFromPaymentLeavesProcessingOrderAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeInventory(lead("life_4", "TX", 3)))
	pending := f.seedPending(t, []string{"life_4"}, nil)
	claimed, won, err := f.store.Orders().ClaimPending(ctx, pending.ID, fixedNow)
	require.NoError(t, err)
	require.True(t, won)

	payments := new(MockPaymentProcessor)
	payments.On("LookupPayment", mock.Anything, "pi_test1").Return(succeededPayment(pending.ID), nil)
	uc := NewRecoverFromPaymentUseCase(f.store.Orders(), payments, f.fulfill, nil)

	_, err = uc.Execute(adminCtx(), RecoverFromPaymentInput{PaymentIntentID: "pi_test1"})
	require.ErrorIs(t, err, ErrValidation)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, pending.ID, de.Details["pending_order_id"])

	got := mustFind(t, f, pending.ID)
	assert.Equal(t, entity.OrderProcessing, got.Status)
	assert.Equal(t, claimed.ClaimedAt, got.ClaimedAt)
	assert.Zero(t, f.inv.fetches)
	assert.Zero(t, f.queue.count())
}
