package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/queue"
)

// Origins recorded on reports and queue payloads.
const (
	OriginPaymentWebhook = "PAYMENT_WEBHOOK"
	OriginAdminRecovery  = "ADMIN_RECOVERY"
	OriginStuckRecovery  = "ADMIN_STUCK_RECOVERY"
)

// FulfillmentSource tells the orchestrator where the payment data came from
// and how much of the pipeline to run.
type FulfillmentSource struct {
	Origin  string
	Payment PaymentConfirmation
	// TakeOver lets an operator resume an order stuck in processing.
	TakeOver bool
	Steps    StepSet
}

func FromPaymentEvent(p PaymentConfirmation) FulfillmentSource {
	return FulfillmentSource{Origin: OriginPaymentWebhook, Payment: p, Steps: allSteps}
}

// FromRecovery rebuilds an order from processor records. CRM sync and cart
// cleanup are left out: the buyer's session is long gone and the CRM is
// synced by the operator. It only claims pending orders; an order already in
// processing is left to FromStuckOrder.
func FromRecovery(p PaymentConfirmation) FulfillmentSource {
	return FulfillmentSource{Origin: OriginAdminRecovery, Payment: p, Steps: recoverySteps}
}

func FromStuckOrder(p PaymentConfirmation) FulfillmentSource {
	return FulfillmentSource{Origin: OriginStuckRecovery, Payment: p, TakeOver: true, Steps: allSteps}
}

type FulfillOrderUseCase struct {
	Customers entity.CustomerRepositoryInterface
	Orders    entity.OrderRepository
	Carts     entity.CartRepository
	State     *OrderStateMachine
	Ledger    *SuppressionLedger
	Inventory InventoryGateway
	Queue     QueueProducerInterface
	Log       *slog.Logger
	Now       func() time.Time
}

func NewFulfillOrderUseCase(
	customers entity.CustomerRepositoryInterface,
	orders entity.OrderRepository,
	carts entity.CartRepository,
	ledger *SuppressionLedger,
	inventory InventoryGateway,
	queue QueueProducerInterface,
	log *slog.Logger,
) *FulfillOrderUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &FulfillOrderUseCase{
		Customers: customers,
		Orders:    orders,
		Carts:     carts,
		State:     NewOrderStateMachine(orders, log),
		Ledger:    ledger,
		Inventory: inventory,
		Queue:     queue,
		Log:       log,
		Now:       time.Now,
	}
}

// Execute turns a confirmed payment into exactly one completed order. Any
// number of concurrent or repeated calls for the same payment are safe: all
// but one stand down with OutcomeAlreadyProcessed.
func (uc *FulfillOrderUseCase) Execute(ctx context.Context, src FulfillmentSource) (*FulfillmentReport, error) {
	p := src.Payment
	report := &FulfillmentReport{
		Source:           src.Origin,
		PendingOrderID:   p.PendingOrderID,
		PaymentReference: p.PaymentReference,
	}

	if errs := ValidatePaymentConfirmation(p); len(errs) > 0 {
		report.Outcome = OutcomeFailed
		return report, newValidationError(errs)
	}

	if err := uc.checkPendingLeadKeys(ctx, p.PendingOrderID); err != nil {
		report.Outcome = OutcomeFailed
		return report, err
	}

	var (
		claim Claim
		err   error
	)
	if src.TakeOver {
		claim, err = uc.State.Reclaim(ctx, p.PendingOrderID, p.PaymentReference)
	} else {
		claim, err = uc.State.Claim(ctx, p.PendingOrderID, p.PaymentReference)
	}
	if err != nil {
		report.Outcome = OutcomeFailed
		return report, err
	}
	if !claim.Won {
		report.Outcome = OutcomeAlreadyProcessed
		report.Reason = claim.Reason
		if claim.Completed != nil {
			report.OrderID = claim.Completed.ID
			report.LeadCount = claim.Completed.LeadCount
		}
		return report, nil
	}

	pending := claim.Order
	uc.Log.Info("fulfillment.claimed", "pending_order_id", pending.ID, "payment_reference", p.PaymentReference, "source", src.Origin)

	run := &stepRunner{report: report, log: uc.Log, steps: src.Steps}

	var customer *entity.Customer
	if err := run.run(StepCustomer, true, func() (string, error) {
		email := p.CustomerEmail
		if strings.TrimSpace(email) == "" {
			email = pending.CustomerEmail
		}
		c, err := uc.resolveCustomer(ctx, email, p.CustomerName)
		if err != nil {
			return "", err
		}
		customer = c
		return c.ID, nil
	}); err != nil {
		uc.leftInProcessing(report, pending, p, err)
		return report, err
	}

	leadKeys := dedupe(pending.LeadsPurchased)
	keys, err := entity.ParseLeadKeys(leadKeys)
	if err != nil {
		// the pending record changed between the key check and the claim
		uc.leftInProcessing(report, pending, p, err)
		return report, &DomainError{
			Code:    CodeValidation,
			Message: "pending order has a malformed lead key",
			Details: map[string]any{"pending_order_id": pending.ID},
			Kind:    ErrValidation,
		}
	}

	var leads []entity.Lead
	_ = run.run(StepAssemble, false, func() (string, error) {
		var (
			fromInventory int
			fetchErr      error
		)
		leads, fromInventory, fetchErr = uc.assembleLeads(ctx, keys, pending)
		detail := fmt.Sprintf("%d of %d leads from inventory", fromInventory, len(leadKeys))
		if fromInventory < len(leadKeys) {
			report.Degraded = true
		}
		return detail, fetchErr
	})

	now := uc.Now().UTC()
	completed := &entity.Order{
		ID:               uuid.New().String(),
		CustomerID:       customer.ID,
		CustomerEmail:    customer.Email,
		UserID:           pending.UserID,
		SessionID:        pending.SessionID,
		TotalPrice:       decimal.New(p.AmountCents, -2),
		LeadCount:        len(leadKeys),
		LeadsPurchased:   leadKeys,
		LeadDataSnapshot: leads,
		PaymentReference: p.PaymentReference,
		CreatedAt:        pending.CreatedAt,
		CompletedAt:      &now,
	}

	if err := run.run(StepFinalize, true, func() (string, error) {
		return completed.ID, uc.State.Complete(ctx, completed)
	}); err != nil {
		if errors.Is(err, entity.ErrDuplicatePaymentReference) {
			return uc.lostFinalizeRace(ctx, report, pending)
		}
		uc.leftInProcessing(report, pending, p, err)
		return report, newDatabaseError("finalize order", err)
	}
	report.OrderID = completed.ID
	report.LeadCount = completed.LeadCount

	_ = run.run(StepCRM, false, func() (string, error) {
		if uc.Queue == nil {
			return "no publisher configured", nil
		}
		return "", uc.Queue.PublishOrderCompleted(ctx, buildOrderPayload(completed, p, src.Origin))
	})

	_ = run.run(StepSuppress, false, func() (string, error) {
		return uc.suppressLeads(ctx, completed, report)
	})

	_ = run.run(StepCartCleanup, false, func() (string, error) {
		owner := entity.CartOwner{UserID: pending.UserID, SessionID: pending.SessionID}
		if owner.Empty() {
			return "no cart owner on pending order", nil
		}
		n, err := uc.Carts.DeleteLeads(ctx, owner, leadKeys)
		return fmt.Sprintf("%d cart items removed", n), err
	})

	_ = run.run(StepDeletePending, false, func() (string, error) {
		removed, err := uc.Orders.Delete(ctx, pending.ID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "already gone", nil
		}
		return "", nil
	})

	report.Outcome = OutcomeCompleted
	uc.Log.Info("fulfillment.completed",
		"order_id", completed.ID,
		"pending_order_id", pending.ID,
		"payment_reference", p.PaymentReference,
		"lead_count", completed.LeadCount,
		"degraded", report.Degraded,
	)
	return report, nil
}

// ResumeSuppression re-runs the suppression step for an already completed
// order. Leads suppressed earlier under the same order are left as they are.
func (uc *FulfillOrderUseCase) ResumeSuppression(ctx context.Context, order *entity.Order) (*FulfillmentReport, error) {
	if order.Status != entity.OrderCompleted {
		return nil, entity.ErrOrderNotCompleted
	}
	report := &FulfillmentReport{
		Outcome:          OutcomeCompleted,
		Source:           "SUPPRESSION_RECONCILE",
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		LeadCount:        order.LeadCount,
	}
	run := &stepRunner{report: report, log: uc.Log, steps: stepSet(StepSuppress)}
	_ = run.run(StepSuppress, false, func() (string, error) {
		return uc.suppressLeads(ctx, order, report)
	})
	return report, nil
}

// checkPendingLeadKeys refuses a pending order whose keys do not parse before
// it can be claimed. Such an order could never be fully suppressed. A missing
// pending order is left for the claim to report.
func (uc *FulfillOrderUseCase) checkPendingLeadKeys(ctx context.Context, pendingID string) error {
	pending, err := uc.Orders.FindByID(ctx, pendingID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return newDatabaseError("find pending order", err)
	}
	if pending.Status == entity.OrderCompleted {
		return nil
	}
	if len(pending.LeadsPurchased) == 0 {
		return &DomainError{
			Code:    CodeValidation,
			Message: "pending order has no leads",
			Details: map[string]any{"pending_order_id": pending.ID},
			Kind:    ErrValidation,
		}
	}
	if _, err := entity.ParseLeadKeys(pending.LeadsPurchased); err != nil {
		details := map[string]any{"pending_order_id": pending.ID}
		var perr *entity.LeadKeyParseError
		if errors.As(err, &perr) {
			details["lead_key"] = perr.Input
			details["reason"] = perr.Reason
		}
		return &DomainError{Code: CodeValidation, Message: "pending order has a malformed lead key", Details: details, Kind: ErrValidation}
	}
	return nil
}

// leftInProcessing marks a run that failed after winning the claim. The order
// stays in processing, so redeliveries stand down and only an operator
// takeover can finish it.
func (uc *FulfillOrderUseCase) leftInProcessing(report *FulfillmentReport, pending *entity.Order, p PaymentConfirmation, err error) {
	report.Outcome = OutcomeFailed
	report.Recovery = RecoverStuckHint(pending.ID, p.PaymentReference)
	uc.Log.Error("fulfillment.order_stuck",
		"pending_order_id", pending.ID,
		"payment_reference", p.PaymentReference,
		"action", report.Recovery,
		"err", err,
	)
}

// RecoverStuckHint is the operator command that finishes an order left in
// processing.
func RecoverStuckHint(orderID, paymentRef string) string {
	if paymentRef == "" {
		paymentRef = "<payment_intent_id>"
	}
	return fmt.Sprintf("leadsctl recover-stuck --order-id %s --payment-intent-id %s", orderID, paymentRef)
}

func (uc *FulfillOrderUseCase) resolveCustomer(ctx context.Context, email, name string) (*entity.Customer, error) {
	email = entity.NormalizeEmail(email)
	existing, err := uc.Customers.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, entity.ErrCustomerNotFound) {
		return nil, fmt.Errorf("find customer: %w", err)
	}

	customer, err := entity.NewCustomer(email, name)
	if err != nil {
		return nil, &DomainError{Code: CodeValidation, Message: "customer: " + err.Error(), Kind: ErrValidation}
	}
	if err := uc.Customers.Create(ctx, customer); err != nil {
		if errors.Is(err, entity.ErrEmailAlreadyExists) {
			return uc.Customers.FindByEmail(ctx, email)
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}
	uc.Log.Info("customer.created", "customer_id", customer.ID, "email", customer.Email)
	return customer, nil
}

// assembleLeads prefers fresh inventory data and falls back, lead by lead, to
// whatever the pending order captured at checkout. The returned error only
// reports an inventory failure; the leads are always usable.
func (uc *FulfillOrderUseCase) assembleLeads(ctx context.Context, keys []entity.LeadKey, pending *entity.Order) ([]entity.Lead, int, error) {
	fallback := pending.SnapshotByKey()

	var (
		fetched  map[string]entity.Lead
		fetchErr error
	)
	if uc.Inventory != nil && len(keys) > 0 {
		fetched, fetchErr = uc.Inventory.FetchLeads(ctx, keys)
		if fetchErr != nil {
			fetchErr = newUpstreamError("inventory", fetchErr)
		}
	}

	now := uc.Now()
	leads := make([]entity.Lead, 0, len(keys))
	fromInventory := 0
	for _, k := range keys {
		id := k.String()
		if l, ok := fetched[id]; ok {
			l.LeadID = id
			leads = append(leads, l.StripSystemFields())
			fromInventory++
			continue
		}
		if l, ok := fallback[id]; ok {
			if l.AgeInDays == 0 && l.ExternalID != "" {
				l.AgeInDays = entity.AgeInDays(l.ExternalID, now)
			}
			leads = append(leads, l.StripSystemFields())
			continue
		}
		leads = append(leads, entity.Lead{LeadID: id, Type: k.Type})
	}
	return leads, fromInventory, fetchErr
}

// suppressLeads records each sale and then labels the inventory row. Leads
// are handled one at a time so a failure points at exactly one lead.
func (uc *FulfillOrderUseCase) suppressLeads(ctx context.Context, order *entity.Order, report *FulfillmentReport) (string, error) {
	report.SuppressedLeads = 0
	report.SuppressFailures = nil

	for _, lead := range order.LeadDataSnapshot {
		key, err := entity.ParseLeadKey(lead.LeadID)
		if err != nil {
			report.SuppressFailures = append(report.SuppressFailures, lead.LeadID)
			uc.Log.Error("suppression.lead_key.invalid", "order_id", order.ID, "lead_key", lead.LeadID, "err", err)
			continue
		}

		rec, err := uc.Ledger.RecordSale(ctx, key, lead.AgeInDays, order.ID)
		if err != nil {
			report.SuppressFailures = append(report.SuppressFailures, key.String())
			uc.Log.Error("suppression.record_failed", "order_id", order.ID, "lead_key", key.String(), "err", err)
			continue
		}
		report.SuppressedLeads++

		if uc.Inventory == nil {
			continue
		}
		if err := uc.Inventory.MarkSold(ctx, key, rec.Tier); err != nil {
			report.MarkSoldFailures = append(report.MarkSoldFailures, key.String())
			report.Degraded = true
			uc.Log.Warn("inventory.mark_sold_failed", "order_id", order.ID, "lead_key", key.String(), "tier", rec.Tier.String(), "err", err)
		}
	}

	detail := fmt.Sprintf("%d of %d leads suppressed", report.SuppressedLeads, len(order.LeadDataSnapshot))
	if len(report.SuppressFailures) > 0 {
		return detail, fmt.Errorf("suppression failed for %s", strings.Join(report.SuppressFailures, ", "))
	}
	return detail, nil
}

// lostFinalizeRace handles a completed order for the same payment appearing
// between our claim and our insert.
func (uc *FulfillOrderUseCase) lostFinalizeRace(ctx context.Context, report *FulfillmentReport, pending *entity.Order) (*FulfillmentReport, error) {
	report.Outcome = OutcomeAlreadyProcessed
	report.Reason = ReasonDuplicatePayment
	if existing, err := uc.Orders.FindCompletedByPaymentReference(ctx, report.PaymentReference); err == nil {
		report.OrderID = existing.ID
		report.LeadCount = existing.LeadCount
	}
	if _, err := uc.Orders.Delete(ctx, pending.ID); err != nil {
		uc.Log.Warn("order.pending.delete_failed", "pending_order_id", pending.ID, "err", err)
	}
	return report, nil
}

func buildOrderPayload(o *entity.Order, p PaymentConfirmation, origin string) queue.OrderCompletedPayload {
	return queue.OrderCompletedPayload{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		CustomerEmail:    o.CustomerEmail,
		CustomerName:     p.CustomerName,
		PaymentReference: o.PaymentReference,
		TotalCents:       p.AmountCents,
		LeadCount:        o.LeadCount,
		Leads:            o.LeadDataSnapshot,
		Origin:           origin,
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
