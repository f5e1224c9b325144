package usecase

import (
	"strings"

	"github.com/xavierca1/lead-market/internal/entity"
)

// PaymentConfirmation is the authoritative payment data a fulfillment run
// works from. It comes from a verified processor event or from the
// processor's own record during recovery, never from the client.
type PaymentConfirmation struct {
	EventID          string
	SessionID        string
	PaymentReference string
	AmountCents      int64
	Currency         string
	CustomerEmail    string
	CustomerName     string
	PendingOrderID   string
}

type RecoverFromPaymentInput struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type RecoverStuckOrderInput struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// LeadPredicate selects leads during a snapshot repair.
type LeadPredicate func(entity.Lead) bool

// LeadFilter is the serializable form of a LeadPredicate. Empty lists match
// everything.
type LeadFilter struct {
	States     []string          `json:"states,omitempty"`
	Types      []entity.LeadType `json:"types,omitempty"`
	MaxAgeDays int               `json:"max_age_days,omitempty"`
}

func (f LeadFilter) IsEmpty() bool {
	return len(f.States) == 0 && len(f.Types) == 0 && f.MaxAgeDays <= 0
}

func (f LeadFilter) Matches(l entity.Lead) bool {
	if len(f.States) > 0 && !containsFold(f.States, l.State) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == l.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxAgeDays > 0 && l.AgeInDays > f.MaxAgeDays {
		return false
	}
	return true
}

func (f LeadFilter) Predicate() LeadPredicate {
	return f.Matches
}

// Not inverts a predicate; used to keep rejected states out of replacements.
func (p LeadPredicate) Not() LeadPredicate {
	return func(l entity.Lead) bool { return !p(l) }
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

type ReplaceLeadsInput struct {
	OrderID string
	Reject  LeadPredicate
	// Allow narrows replacement candidates. Nil allows every candidate that is
	// not itself rejected.
	Allow LeadPredicate
}

type LeadReplacement struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type ReplaceLeadsOutput struct {
	OrderID          string            `json:"order_id"`
	Replaced         []LeadReplacement `json:"replaced"`
	LeadCount        int               `json:"lead_count"`
	MarkSoldFailures []string          `json:"mark_sold_failures,omitempty"`
}

type RefundInput struct {
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount_cents"`
	Reason           string `json:"reason"`
}

type RefundOutput struct {
	RefundID         string `json:"refund_id"`
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount_cents"`
	Status           string `json:"status"`
}

type ReconcileSummary struct {
	OrdersChecked     int      `json:"orders_checked"`
	OrdersRepaired    int      `json:"orders_repaired"`
	RecordsCreated    int      `json:"records_created"`
	StaleProcessing   []string `json:"stale_processing,omitempty"`
	RepairFailedOrder []string `json:"repair_failed,omitempty"`
}
