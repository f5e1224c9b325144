package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xavierca1/lead-market/internal/entity"
)

// failingSuppressions fails CreateIfAbsent for one lead key.
type failingSuppressions struct {
	entity.SuppressionRepository
	failKey string
}

func (f *failingSuppressions) CreateIfAbsent(ctx context.Context, rec *entity.SuppressionRecord) (*entity.SuppressionRecord, bool, error) {
	if rec.LeadKey == f.failKey {
		return nil, false, errors.New("ledger write timed out")
	}
	return f.SuppressionRepository.CreateIfAbsent(ctx, rec)
}

type replaceFixture struct {
	*fixture
	order *entity.Order
	uc    *ReplaceLeadsUseCase
}

func newReplaceFixture(t *testing.T) *replaceFixture {
	t.Helper()
	ctx := context.Background()
	inv := newFakeInventory()
	inv.available[entity.LeadTypeLife] = []entity.Lead{
		lead("life_4", "CA", 10),
		lead("life_5", "TX", 10),
		lead("life_7", "TX", 1),
		lead("life_9", "CA", 1),
		lead("life_12", "TX", 5),
		lead("life_13", "TX", 2),
		lead("life_14", "TX", 2),
	}
	inv.available[entity.LeadTypeFinalExpense] = []entity.Lead{
		lead("final_expense_20", "FL", 30),
	}
	f := newFixture(t, inv)

	order := &entity.Order{
		ID:               "order-1",
		CustomerEmail:    "buyer@example.com",
		Status:           entity.OrderCompleted,
		LeadCount:        3,
		LeadsPurchased:   []string{"life_4", "life_5", "final_expense_10"},
		LeadDataSnapshot: []entity.Lead{lead("life_4", "CA", 10), lead("life_5", "TX", 10), lead("final_expense_10", "CA", 3)},
		PaymentReference: "pi_test1",
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
	require.NoError(t, f.store.Orders().CreateCompleted(ctx, order))
	for _, l := range order.LeadDataSnapshot {
		k, _ := entity.ParseLeadKey(l.LeadID)
		_, err := f.ledger.RecordSale(ctx, k, l.AgeInDays, order.ID)
		require.NoError(t, err)
	}
	_, err := f.ledger.RecordSale(ctx, entity.NewLeadKey(entity.LeadTypeLife, 7), 1, "other-order")
	require.NoError(t, err)

	uc := NewReplaceLeadsUseCase(f.store.Orders(), f.ledger, inv, nil)
	return &replaceFixture{fixture: f, order: order, uc: uc}
}

func rejectStates(states ...string) LeadPredicate {
	return LeadFilter{States: states}.Predicate()
}

func (f *replaceFixture) keysSold(t *testing.T) []string {
	t.Helper()
	recs, err := f.store.Suppressions().ListByOrder(context.Background(), f.order.ID)
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.LeadKey)
	}
	return out
}

func TestReplaceLeadsSwapsRejectedInPlace(t *testing.T) {
	f := newReplaceFixture(t)

	out, err := f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("CA")})
	require.NoError(t, err)
	assert.Equal(t, []LeadReplacement{
		{Old: "life_4", New: "life_13"},
		{Old: "final_expense_10", New: "final_expense_20"},
	}, out.Replaced)
	assert.Equal(t, 3, out.LeadCount)

	order := mustFind(t, f.fixture, "order-1")
	assert.Equal(t, []string{"life_13", "life_5", "final_expense_20"}, order.LeadsPurchased)
	assert.Equal(t, "life_13", order.LeadDataSnapshot[0].LeadID)
	assert.Equal(t, "FL", order.LeadDataSnapshot[2].State)
	assert.NoError(t, order.ValidateCompleted())

	assert.ElementsMatch(t, []string{"life_13", "life_5", "final_expense_20"}, f.keysSold(t))
	assert.Equal(t, entity.Tier1, f.inv.marked["life_13"])
	assert.Equal(t, entity.Tier3, f.inv.marked["final_expense_20"])

	sold, err := f.ledger.IsSuppressed(context.Background(), entity.NewLeadKey(entity.LeadTypeLife, 7))
	require.NoError(t, err)
	assert.True(t, sold, "sale in another order must survive")
}

func TestReplaceLeadsAllowNarrowsCandidates(t *testing.T) {
	f := newReplaceFixture(t)

	_, err := f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("CA"), Allow: rejectStates("NY")})
	require.ErrorIs(t, err, ErrInsufficientCandidates)

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInsufficientCandidate, de.Code)
	assert.Equal(t, "final_expense", de.Details["lead_type"])
	assert.Equal(t, 1, de.Details["needed"])
	assert.Equal(t, 0, de.Details["available"])

	order := mustFind(t, f.fixture, "order-1")
	assert.Equal(t, []string{"life_4", "life_5", "final_expense_10"}, order.LeadsPurchased)
	assert.ElementsMatch(t, []string{"life_4", "life_5", "final_expense_10"}, f.keysSold(t))
}

func TestReplaceLeadsNothingRejected(t *testing.T) {
	f := newReplaceFixture(t)

	out, err := f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("WA")})
	require.NoError(t, err)
	assert.Empty(t, out.Replaced)
}

func TestReplaceLeadsRollsBackOnLedgerFailure(t *testing.T) {
	f := newReplaceFixture(t)
	ledger := NewSuppressionLedger(&failingSuppressions{SuppressionRepository: f.store.Suppressions(), failKey: "final_expense_20"})
	uc := NewReplaceLeadsUseCase(f.store.Orders(), ledger, f.inv, nil)

	_, err := uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("CA")})
	require.Error(t, err)
	assert.True(t, IsTechnicalError(err))

	order := mustFind(t, f.fixture, "order-1")
	assert.Equal(t, []string{"life_4", "life_5", "final_expense_10"}, order.LeadsPurchased)
	assert.Equal(t, "CA", order.LeadDataSnapshot[0].State)
	assert.ElementsMatch(t, []string{"life_4", "life_5", "final_expense_10"}, f.keysSold(t))
	assert.Empty(t, f.inv.marked)
}

func TestReplaceLeadsAuthorization(t *testing.T) {
	f := newReplaceFixture(t)
	in := ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("CA")}

	_, err := f.uc.Execute(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnauthorized)

	customer := WithActor(context.Background(), &Actor{Email: "c@example.com", Role: RoleCustomer})
	_, err = f.uc.Execute(customer, in)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReplaceLeadsRequiresCompletedOrder(t *testing.T) {
	f := newReplaceFixture(t)
	pending := f.seedPending(t, []string{"life_30"}, nil)

	_, err := f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: pending.ID, Reject: rejectStates("CA")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "nope", Reject: rejectStates("CA")})
	assert.ErrorIs(t, err, ErrDataNotFound)

	_, err = f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReplaceLeadsKeepsSameLeadSoldInAnotherOrder(t *testing.T) {
	ctx := context.Background()
	f := newReplaceFixture(t)
	life4 := entity.NewLeadKey(entity.LeadTypeLife, 4)
	_, err := f.ledger.RecordSale(ctx, life4, 10, "order-2")
	require.NoError(t, err)

	out, err := f.uc.Execute(adminCtx(), ReplaceLeadsInput{OrderID: "order-1", Reject: rejectStates("CA")})
	require.NoError(t, err)
	require.NotEmpty(t, out.Replaced)
	assert.Equal(t, "life_4", out.Replaced[0].Old)

	assert.NotContains(t, f.keysSold(t), "life_4")

	other, err := f.store.Suppressions().ListByOrder(ctx, "order-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "life_4", other[0].LeadKey)

	sold, err := f.ledger.IsSuppressed(ctx, life4)
	require.NoError(t, err)
	assert.True(t, sold)
}
