package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound             = errors.New("order not found")
	ErrDuplicatePaymentReference = errors.New("payment reference already used by a completed order")
	ErrOrderNotCompleted         = errors.New("order is not completed")
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
)

// Order is either the provisional record written at checkout (pending or
// processing) or the finalized record that supersedes it (completed).
type Order struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customer_id,omitempty"`
	CustomerEmail    string          `json:"customer_email"`
	UserID           string          `json:"user_id,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	Status           OrderStatus     `json:"status"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	LeadCount        int             `json:"lead_count"`
	LeadsPurchased   []string        `json:"leads_purchased"`
	LeadDataSnapshot []Lead          `json:"lead_data_snapshot"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ClaimedAt        *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// NewPendingOrder is what checkout writes before redirecting to payment.
func NewPendingOrder(email, userID, sessionID string, leadKeys []string, snapshot []Lead, total decimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:               uuid.New().String(),
		CustomerEmail:    email,
		UserID:           userID,
		SessionID:        sessionID,
		Status:           OrderPending,
		TotalPrice:       total,
		LeadCount:        len(leadKeys),
		LeadsPurchased:   append([]string(nil), leadKeys...),
		LeadDataSnapshot: append([]Lead(nil), snapshot...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderCompleted
}

// SnapshotByKey indexes the snapshot by lead id.
func (o *Order) SnapshotByKey() map[string]Lead {
	out := make(map[string]Lead, len(o.LeadDataSnapshot))
	for _, l := range o.LeadDataSnapshot {
		if l.LeadID != "" {
			out[l.LeadID] = l
		}
	}
	return out
}

// ValidateCompleted checks the invariants every completed order must hold.
func (o *Order) ValidateCompleted() error {
	if o.Status != OrderCompleted {
		return ErrOrderNotCompleted
	}
	if o.PaymentReference == "" {
		return errors.New("completed order requires a payment reference")
	}
	if o.LeadCount != len(o.LeadsPurchased) {
		return fmt.Errorf("lead_count %d does not match %d purchased leads", o.LeadCount, len(o.LeadsPurchased))
	}
	if len(o.LeadDataSnapshot) != len(o.LeadsPurchased) {
		return fmt.Errorf("snapshot has %d leads, expected %d", len(o.LeadDataSnapshot), len(o.LeadsPurchased))
	}
	return nil
}

type OrderRepository interface {
	CreatePending(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindCompletedByPaymentReference(ctx context.Context, ref string) (*Order, error)

	// ClaimPending moves the order from pending to processing if, and only if,
	// it is still pending. The returned order reflects the stored state after
	// the attempt; won is false when some other attempt got there first.
	ClaimPending(ctx context.Context, id string, at time.Time) (o *Order, won bool, err error)
	// ReclaimProcessing refreshes claimed_at on an order stuck in processing so
	// an operator-driven recovery can take it over.
	ReclaimProcessing(ctx context.Context, id string, at time.Time) (o *Order, won bool, err error)

	// CreateCompleted inserts a finalized order. A second completed order with
	// the same payment reference yields ErrDuplicatePaymentReference.
	CreateCompleted(ctx context.Context, o *Order) error
	// ReplaceLeads swaps purchased keys and snapshot of a completed order.
	ReplaceLeads(ctx context.Context, id string, leadsPurchased []string, snapshot []Lead) error
	Delete(ctx context.Context, id string) (bool, error)

	// ListCompletedMissingSuppression returns completed orders with fewer
	// suppression records than leads, never-checked orders first and then the
	// least recently checked.
	ListCompletedMissingSuppression(ctx context.Context, limit int) ([]*Order, error)
	// MarkSuppressionChecked records a reconciliation attempt so the next pass
	// moves on to other orders.
	MarkSuppressionChecked(ctx context.Context, id string, at time.Time) error
	ListStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]*Order, error)
}
