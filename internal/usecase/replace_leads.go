package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xavierca1/lead-market/internal/entity"
)

// ReplaceLeadsUseCase repairs a completed order by swapping leads that should
// not have been sold for fresh leads of the same type. Every mutation runs in a
// compensating Transaction so a failed ledger write puts the order and its
// suppression records back the way they were.
type ReplaceLeadsUseCase struct {
	Orders    entity.OrderRepository
	Ledger    *SuppressionLedger
	Inventory InventoryGateway
	Log       *slog.Logger
}

func NewReplaceLeadsUseCase(orders entity.OrderRepository, ledger *SuppressionLedger, inventory InventoryGateway, log *slog.Logger) *ReplaceLeadsUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ReplaceLeadsUseCase{Orders: orders, Ledger: ledger, Inventory: inventory, Log: log}
}

type rejectedLead struct {
	index int
	lead  entity.Lead
	key   entity.LeadKey
}

func (uc *ReplaceLeadsUseCase) Execute(ctx context.Context, input ReplaceLeadsInput) (*ReplaceLeadsOutput, error) {
	if err := RequireAdmin(ActorFromContext(ctx)); err != nil {
		return nil, err
	}

	var verrs []ValidationError
	if strings.TrimSpace(input.OrderID) == "" {
		verrs = append(verrs, ValidationError{"order_id", "is required"})
	}
	if input.Reject == nil {
		verrs = append(verrs, ValidationError{"reject", "is required"})
	}
	if len(verrs) > 0 {
		return nil, newValidationError(verrs)
	}

	order, err := uc.Orders.FindByID(ctx, input.OrderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return nil, newNotFoundError("order not found", map[string]any{"order_id": input.OrderID})
	}
	if err != nil {
		return nil, newDatabaseError("find order", err)
	}
	if order.Status != entity.OrderCompleted {
		return nil, &DomainError{
			Code:    CodeValidation,
			Message: "only completed orders can be repaired",
			Details: map[string]any{"order_id": order.ID, "status": string(order.Status)},
			Kind:    ErrValidation,
		}
	}

	out := &ReplaceLeadsOutput{OrderID: order.ID, LeadCount: order.LeadCount, Replaced: []LeadReplacement{}}

	rejected, err := partition(order, input.Reject)
	if err != nil {
		return nil, err
	}
	if len(rejected) == 0 {
		return out, nil
	}

	pools, err := uc.candidates(ctx, order, rejected, input)
	if err != nil {
		return nil, err
	}

	newKeys := append([]string(nil), order.LeadsPurchased...)
	newSnapshot := append([]entity.Lead(nil), order.LeadDataSnapshot...)
	type swap struct {
		old     rejectedLead
		newLead entity.Lead
		newKey  entity.LeadKey
	}
	swaps := make([]swap, 0, len(rejected))
	for _, r := range rejected {
		pool := pools[r.key.Type]
		next := pool[0]
		pools[r.key.Type] = pool[1:]

		nk, _ := entity.ParseLeadKey(next.LeadID)
		next = next.StripSystemFields()
		newSnapshot[r.index] = next
		for i, k := range newKeys {
			if k == r.lead.LeadID {
				newKeys[i] = next.LeadID
				break
			}
		}
		swaps = append(swaps, swap{old: r, newLead: next, newKey: nk})
	}

	oldKeys := append([]string(nil), order.LeadsPurchased...)
	oldSnapshot := append([]entity.Lead(nil), order.LeadDataSnapshot...)

	tx := NewTransaction(uc.Log)
	tx.AddStep("update_order",
		func(ctx context.Context) error {
			return uc.Orders.ReplaceLeads(ctx, order.ID, newKeys, newSnapshot)
		},
		func(ctx context.Context) error {
			return uc.Orders.ReplaceLeads(ctx, order.ID, oldKeys, oldSnapshot)
		},
	)
	for _, s := range swaps {
		tx.AddStep("unsuppress "+s.old.key.String(),
			func(ctx context.Context) error {
				_, err := uc.Ledger.Unsuppress(ctx, s.old.key, order.ID)
				return err
			},
			func(ctx context.Context) error {
				_, err := uc.Ledger.RecordSale(ctx, s.old.key, s.old.lead.AgeInDays, order.ID)
				return err
			},
		)
		tx.AddStep("record_sale "+s.newKey.String(),
			func(ctx context.Context) error {
				_, err := uc.Ledger.RecordSale(ctx, s.newKey, s.newLead.AgeInDays, order.ID)
				return err
			},
			func(ctx context.Context) error {
				_, err := uc.Ledger.Unsuppress(ctx, s.newKey, order.ID)
				return err
			},
		)
	}
	if err := tx.Execute(ctx); err != nil {
		return nil, newDatabaseError("replace leads", err)
	}

	for _, s := range swaps {
		out.Replaced = append(out.Replaced, LeadReplacement{Old: s.old.key.String(), New: s.newKey.String()})
		if err := uc.Inventory.MarkSold(ctx, s.newKey, entity.TierFromAge(s.newLead.AgeInDays)); err != nil {
			out.MarkSoldFailures = append(out.MarkSoldFailures, s.newKey.String())
			uc.Log.Warn("inventory.mark_sold_failed", "order_id", order.ID, "lead_key", s.newKey.String(), "err", err)
		}
	}
	out.LeadCount = len(newKeys)

	uc.Log.Info("order.leads_replaced",
		"order_id", order.ID,
		"replaced", len(out.Replaced),
		"actor", ActorFromContext(ctx).Email,
	)
	return out, nil
}

func partition(order *entity.Order, reject LeadPredicate) ([]rejectedLead, error) {
	var out []rejectedLead
	for i, l := range order.LeadDataSnapshot {
		if !reject(l) {
			continue
		}
		key, err := entity.ParseLeadKey(l.LeadID)
		if err != nil {
			return nil, &DomainError{
				Code:    CodeValidation,
				Message: "rejected lead has an unreadable key",
				Details: map[string]any{"order_id": order.ID, "lead_id": l.LeadID},
				Kind:    ErrValidation,
			}
		}
		out = append(out, rejectedLead{index: i, lead: l, key: key})
	}
	return out, nil
}

// candidates gathers, per needed lead type, the unsold leads that may replace
// rejected ones, youngest first. It fails before anything is written when a
// type cannot be fully covered.
func (uc *ReplaceLeadsUseCase) candidates(ctx context.Context, order *entity.Order, rejected []rejectedLead, input ReplaceLeadsInput) (map[entity.LeadType][]entity.Lead, error) {
	needed := map[entity.LeadType]int{}
	for _, r := range rejected {
		needed[r.key.Type]++
	}
	inOrder := make(map[string]struct{}, len(order.LeadsPurchased))
	for _, k := range order.LeadsPurchased {
		inOrder[k] = struct{}{}
	}

	accept := input.Reject.Not()
	if input.Allow != nil {
		notRejected := accept
		accept = func(l entity.Lead) bool { return notRejected(l) && input.Allow(l) }
	}

	pools := map[entity.LeadType][]entity.Lead{}
	for _, t := range entity.LeadTypes() {
		n, ok := needed[t]
		if !ok {
			continue
		}

		available, err := uc.Inventory.ListAvailable(ctx, t)
		if err != nil {
			return nil, newUpstreamError("inventory", err)
		}

		var pool []entity.Lead
		var keys []string
		for _, l := range available {
			if _, dup := inOrder[l.LeadID]; dup {
				continue
			}
			k, err := entity.ParseLeadKey(l.LeadID)
			if err != nil || k.Type != t {
				continue
			}
			if !accept(l) {
				continue
			}
			pool = append(pool, l)
			keys = append(keys, l.LeadID)
		}

		sold, err := uc.Ledger.SuppressedSet(ctx, keys)
		if err != nil {
			return nil, newDatabaseError("check suppression", err)
		}
		unsold := pool[:0]
		for _, l := range pool {
			if !sold[l.LeadID] {
				unsold = append(unsold, l)
			}
		}

		if len(unsold) < n {
			return nil, &DomainError{
				Code:    CodeInsufficientCandidate,
				Message: fmt.Sprintf("not enough %s leads to replace %d rejected (%d available)", t, n, len(unsold)),
				Details: map[string]any{"lead_type": string(t), "needed": n, "available": len(unsold), "order_id": order.ID},
				Kind:    ErrInsufficientCandidates,
			}
		}

		sort.SliceStable(unsold, func(i, j int) bool {
			if unsold[i].AgeInDays != unsold[j].AgeInDays {
				return unsold[i].AgeInDays < unsold[j].AgeInDays
			}
			ki, _ := entity.ParseLeadKey(unsold[i].LeadID)
			kj, _ := entity.ParseLeadKey(unsold[j].LeadID)
			return ki.Offset < kj.Offset
		})
		pools[t] = unsold
	}
	return pools, nil
}
