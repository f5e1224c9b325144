package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xavierca1/lead-market/internal/entity"
)

// Reasons reported when a fulfillment attempt stands down.
const (
	ReasonDuplicatePayment = "duplicate_payment_reference"
	ReasonInProgress       = "in_progress"
	ReasonCompleted        = "completed"
)

// Claim is the result of trying to take ownership of a pending order.
type Claim struct {
	Won bool
	// Order is the pending record as stored after the attempt.
	Order *entity.Order
	// Completed is set when a finalized order for the same payment already
	// exists.
	Completed *entity.Order
	Reason    string
}

// OrderStateMachine owns the pending -> processing -> completed transitions.
// The pending -> processing step is a compare-and-swap in the store; that is
// the only serialization point between concurrent fulfillment attempts.
type OrderStateMachine struct {
	Orders entity.OrderRepository
	Log    *slog.Logger
	Now    func() time.Time
}

func NewOrderStateMachine(orders entity.OrderRepository, log *slog.Logger) *OrderStateMachine {
	if log == nil {
		log = slog.Default()
	}
	return &OrderStateMachine{Orders: orders, Log: log, Now: time.Now}
}

// Claim runs both idempotency guards and then tries to move the pending order
// to processing. Losing is not an error: the caller must exit without side
// effects.
func (sm *OrderStateMachine) Claim(ctx context.Context, pendingID, paymentRef string) (Claim, error) {
	return sm.claim(ctx, pendingID, paymentRef, false)
}

// Reclaim is Claim for operator-driven recovery: an order stuck in processing
// is taken over instead of being treated as in progress.
func (sm *OrderStateMachine) Reclaim(ctx context.Context, pendingID, paymentRef string) (Claim, error) {
	return sm.claim(ctx, pendingID, paymentRef, true)
}

func (sm *OrderStateMachine) claim(ctx context.Context, pendingID, paymentRef string, takeOver bool) (Claim, error) {
	if c, done, err := sm.referenceGuard(ctx, pendingID, paymentRef); err != nil || done {
		return c, err
	}

	now := sm.Now().UTC()
	order, won, err := sm.Orders.ClaimPending(ctx, pendingID, now)
	if errors.Is(err, entity.ErrOrderNotFound) {
		// The pending record may have been consumed between the guard and the
		// claim by an attempt that has since completed.
		if c, done, gErr := sm.referenceGuard(ctx, pendingID, paymentRef); gErr != nil || done {
			return c, gErr
		}
		return Claim{}, newNotFoundError("pending order not found", map[string]any{
			"pending_order_id":  pendingID,
			"payment_reference": paymentRef,
		})
	}
	if err != nil {
		return Claim{}, newDatabaseError("claim pending order", err)
	}
	if won {
		return Claim{Won: true, Order: order}, nil
	}

	if takeOver && order.Status == entity.OrderProcessing {
		order, won, err = sm.Orders.ReclaimProcessing(ctx, pendingID, now)
		if err != nil {
			return Claim{}, newDatabaseError("reclaim processing order", err)
		}
		if won {
			sm.Log.Warn("order.reclaimed", "pending_order_id", pendingID, "payment_reference", paymentRef)
			return Claim{Won: true, Order: order}, nil
		}
	}

	reason := ReasonInProgress
	if order != nil && order.Status == entity.OrderCompleted {
		reason = ReasonCompleted
	}
	sm.Log.Info("order.claim.lost", "pending_order_id", pendingID, "reason", reason)
	return Claim{Order: order, Reason: reason}, nil
}

// referenceGuard stops the run when a completed order already carries the
// payment reference. The redundant pending record, if any, is removed.
func (sm *OrderStateMachine) referenceGuard(ctx context.Context, pendingID, paymentRef string) (Claim, bool, error) {
	existing, err := sm.Orders.FindCompletedByPaymentReference(ctx, paymentRef)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, newDatabaseError("find order by payment reference", err)
	}

	if pendingID != "" && pendingID != existing.ID {
		if _, err := sm.Orders.Delete(ctx, pendingID); err != nil {
			sm.Log.Warn("order.pending.delete_failed", "pending_order_id", pendingID, "err", err)
		}
	}
	sm.Log.Info("order.duplicate_payment", "payment_reference", paymentRef, "order_id", existing.ID)
	return Claim{Completed: existing, Reason: ReasonDuplicatePayment}, true, nil
}

// Complete writes the finalized order. A concurrent completion for the same
// payment surfaces as entity.ErrDuplicatePaymentReference.
func (sm *OrderStateMachine) Complete(ctx context.Context, o *entity.Order) error {
	now := sm.Now().UTC()
	o.Status = entity.OrderCompleted
	o.UpdatedAt = now
	if o.CompletedAt == nil {
		o.CompletedAt = &now
	}
	if err := o.ValidateCompleted(); err != nil {
		return err
	}
	return sm.Orders.CreateCompleted(ctx, o)
}
