package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
)

// RecoverFromPaymentUseCase rebuilds an order for a payment whose webhook
// never produced one.
type RecoverFromPaymentUseCase struct {
	Orders   entity.OrderRepository
	Payments PaymentProcessor
	Fulfill  *FulfillOrderUseCase
	Log      *slog.Logger
}

func NewRecoverFromPaymentUseCase(orders entity.OrderRepository, payments PaymentProcessor, fulfill *FulfillOrderUseCase, log *slog.Logger) *RecoverFromPaymentUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &RecoverFromPaymentUseCase{Orders: orders, Payments: payments, Fulfill: fulfill, Log: log}
}

func (uc *RecoverFromPaymentUseCase) Execute(ctx context.Context, input RecoverFromPaymentInput) (*FulfillmentReport, error) {
	if err := RequireAdmin(ActorFromContext(ctx)); err != nil {
		return nil, err
	}
	pi := strings.TrimSpace(input.PaymentIntentID)
	if !isPaymentIntentID(pi) {
		return nil, newValidationError([]ValidationError{{"payment_intent_id", "must be a payment intent id (pi_...)"}})
	}

	if existing, err := uc.Orders.FindCompletedByPaymentReference(ctx, pi); err == nil {
		return alreadyProcessed(OriginAdminRecovery, existing), nil
	} else if !errors.Is(err, entity.ErrOrderNotFound) {
		return nil, newDatabaseError("find order by payment reference", err)
	}

	rec, err := uc.lookup(ctx, pi)
	if err != nil {
		return nil, err
	}

	if !rec.Succeeded() {
		return nil, paymentNotSucceeded(rec)
	}
	if rec.PendingOrderID == "" {
		return nil, manualRecovery("payment carries no pending order reference", rec)
	}
	pending, err := uc.Orders.FindByID(ctx, rec.PendingOrderID)
	if err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			return nil, manualRecovery("pending order no longer exists", rec)
		}
		return nil, newDatabaseError("find pending order", err)
	}
	if pending.Status == entity.OrderProcessing {
		// a live run may still own it; taking over is recover-stuck's job
		return nil, &DomainError{
			Code:    CodeValidation,
			Message: "pending order is being processed; use recover-stuck once it is stale",
			Details: map[string]any{
				"pending_order_id":  pending.ID,
				"status":            string(pending.Status),
				"claimed_at":        pending.ClaimedAt,
				"payment_intent_id": rec.PaymentIntentID,
			},
			Kind: ErrValidation,
		}
	}

	uc.Log.Info("recovery.from_payment", "payment_reference", pi, "pending_order_id", rec.PendingOrderID, "actor", ActorFromContext(ctx).Email)
	return uc.Fulfill.Execute(ctx, FromRecovery(confirmationFromRecord(rec)))
}

func (uc *RecoverFromPaymentUseCase) lookup(ctx context.Context, pi string) (*stripe.PaymentRecord, error) {
	rec, err := uc.Payments.LookupPayment(ctx, pi)
	if errors.Is(err, stripe.ErrPaymentNotFound) {
		return nil, newNotFoundError("payment not found at processor", map[string]any{"payment_intent_id": pi})
	}
	if err != nil {
		return nil, newUpstreamError("payment processor", err)
	}
	return rec, nil
}

// RecoverStuckOrderUseCase resumes an order left in processing (or never
// claimed) by a crashed or timed-out fulfillment run.
type RecoverStuckOrderUseCase struct {
	Orders   entity.OrderRepository
	Payments PaymentProcessor
	Fulfill  *FulfillOrderUseCase
	Log      *slog.Logger
}

func NewRecoverStuckOrderUseCase(orders entity.OrderRepository, payments PaymentProcessor, fulfill *FulfillOrderUseCase, log *slog.Logger) *RecoverStuckOrderUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &RecoverStuckOrderUseCase{Orders: orders, Payments: payments, Fulfill: fulfill, Log: log}
}

func (uc *RecoverStuckOrderUseCase) Execute(ctx context.Context, input RecoverStuckOrderInput) (*FulfillmentReport, error) {
	if err := RequireAdmin(ActorFromContext(ctx)); err != nil {
		return nil, err
	}

	var verrs []ValidationError
	if strings.TrimSpace(input.OrderID) == "" {
		verrs = append(verrs, ValidationError{"order_id", "is required"})
	}
	if !isPaymentIntentID(input.PaymentIntentID) {
		verrs = append(verrs, ValidationError{"payment_intent_id", "must be a payment intent id (pi_...)"})
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
	if order.Status == entity.OrderCompleted {
		return alreadyProcessed(OriginStuckRecovery, order), nil
	}

	rec, err := uc.Payments.LookupPayment(ctx, input.PaymentIntentID)
	if errors.Is(err, stripe.ErrPaymentNotFound) {
		return nil, newNotFoundError("payment not found at processor", map[string]any{"payment_intent_id": input.PaymentIntentID})
	}
	if err != nil {
		return nil, newUpstreamError("payment processor", err)
	}
	if !rec.Succeeded() {
		return nil, paymentNotSucceeded(rec)
	}
	if rec.PendingOrderID != "" && rec.PendingOrderID != order.ID {
		return nil, &DomainError{
			Code:    CodeValidation,
			Message: "payment belongs to a different order",
			Details: map[string]any{"order_id": order.ID, "payment_order_id": rec.PendingOrderID},
			Kind:    ErrValidation,
		}
	}

	p := confirmationFromRecord(rec)
	p.PendingOrderID = order.ID
	if p.CustomerEmail == "" {
		p.CustomerEmail = order.CustomerEmail
	}

	uc.Log.Warn("recovery.stuck_order", "order_id", order.ID, "status", order.Status, "payment_reference", rec.PaymentIntentID, "actor", ActorFromContext(ctx).Email)
	return uc.Fulfill.Execute(ctx, FromStuckOrder(p))
}

func confirmationFromRecord(rec *stripe.PaymentRecord) PaymentConfirmation {
	return PaymentConfirmation{
		SessionID:        rec.SessionID,
		PaymentReference: rec.PaymentIntentID,
		AmountCents:      rec.AmountCents,
		Currency:         rec.Currency,
		CustomerEmail:    rec.CustomerEmail,
		CustomerName:     rec.CustomerName,
		PendingOrderID:   rec.PendingOrderID,
	}
}

func paymentNotSucceeded(rec *stripe.PaymentRecord) *DomainError {
	return &DomainError{
		Code:    CodeValidation,
		Message: "payment has not succeeded",
		Details: map[string]any{"payment_intent_id": rec.PaymentIntentID, "status": rec.Status, "amount_cents": rec.AmountCents},
		Kind:    ErrValidation,
	}
}

// manualRecovery hands everything the processor knows to an operator.
func manualRecovery(msg string, rec *stripe.PaymentRecord) *DomainError {
	details := map[string]any{
		"payment_intent_id": rec.PaymentIntentID,
		"session_id":        rec.SessionID,
		"amount_cents":      rec.AmountCents,
		"currency":          rec.Currency,
		"status":            rec.Status,
		"customer_email":    rec.CustomerEmail,
		"customer_name":     rec.CustomerName,
		"pending_order_id":  rec.PendingOrderID,
		"created":           rec.Created,
		"metadata":          rec.Metadata,
	}
	return &DomainError{Code: CodeManualRecovery, Message: msg, Details: details, Kind: ErrManualRecoveryNeeded}
}

func alreadyProcessed(origin string, o *entity.Order) *FulfillmentReport {
	return &FulfillmentReport{
		Outcome:          OutcomeAlreadyProcessed,
		Reason:           ReasonCompleted,
		Source:           origin,
		OrderID:          o.ID,
		PaymentReference: o.PaymentReference,
		LeadCount:        o.LeadCount,
	}
}
