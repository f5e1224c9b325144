package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
)

type RefundPaymentUseCase struct {
	Orders   entity.OrderRepository
	Payments PaymentProcessor
	Log      *slog.Logger
}

func NewRefundPaymentUseCase(orders entity.OrderRepository, payments PaymentProcessor, log *slog.Logger) *RefundPaymentUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &RefundPaymentUseCase{Orders: orders, Payments: payments, Log: log}
}

// Execute refunds the caller-specified amount. Orders and suppression records
// are left untouched; pair with a lead replacement when leads come back.
func (uc *RefundPaymentUseCase) Execute(ctx context.Context, input RefundInput) (*RefundOutput, error) {
	if err := RequireAdmin(ActorFromContext(ctx)); err != nil {
		return nil, err
	}
	input.PaymentReference = strings.TrimSpace(input.PaymentReference)
	if errs := ValidateRefundInput(input); len(errs) > 0 {
		return nil, newValidationError(errs)
	}
	if !isPaymentIntentID(input.PaymentReference) {
		return nil, newValidationError([]ValidationError{{"payment_reference", "must be a payment intent id (pi_...)"}})
	}

	orderID := ""
	if o, err := uc.Orders.FindCompletedByPaymentReference(ctx, input.PaymentReference); err == nil {
		orderID = o.ID
	} else if !errors.Is(err, entity.ErrOrderNotFound) {
		return nil, newDatabaseError("find order by payment reference", err)
	}

	res, err := uc.Payments.Refund(ctx, stripe.RefundInput{
		PaymentIntentID: input.PaymentReference,
		AmountCents:     input.AmountCents,
		Reason:          input.Reason,
	})
	if errors.Is(err, stripe.ErrPaymentNotFound) {
		return nil, newNotFoundError("payment not found at processor", map[string]any{"payment_reference": input.PaymentReference})
	}
	if err != nil {
		return nil, newUpstreamError("payment processor", err)
	}

	uc.Log.Info("payment.refunded",
		"refund_id", res.RefundID,
		"payment_reference", input.PaymentReference,
		"order_id", orderID,
		"amount_cents", res.AmountCents,
		"actor", ActorFromContext(ctx).Email,
	)
	return &RefundOutput{
		RefundID:         res.RefundID,
		PaymentReference: res.PaymentIntentID,
		AmountCents:      res.AmountCents,
		Status:           res.Status,
	}, nil
}
