package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/xavierca1/lead-market/internal/entity"
)

const defaultReconcileBatch = 50

// ReconcileSuppressionUseCase finds completed orders whose suppression step
// never finished (a crash between finalize and suppress) and re-runs it. It
// also reports orders that have sat in processing for too long; those need an
// operator and are never taken over automatically.
type ReconcileSuppressionUseCase struct {
	Orders     entity.OrderRepository
	Ledger     *SuppressionLedger
	Fulfill    *FulfillOrderUseCase
	StuckAfter time.Duration
	BatchSize  int
	Log        *slog.Logger
	Now        func() time.Time
}

func NewReconcileSuppressionUseCase(orders entity.OrderRepository, ledger *SuppressionLedger, fulfill *FulfillOrderUseCase, stuckAfter time.Duration, log *slog.Logger) *ReconcileSuppressionUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileSuppressionUseCase{
		Orders:     orders,
		Ledger:     ledger,
		Fulfill:    fulfill,
		StuckAfter: stuckAfter,
		BatchSize:  defaultReconcileBatch,
		Log:        log,
		Now:        time.Now,
	}
}

func (uc *ReconcileSuppressionUseCase) Execute(ctx context.Context) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{}

	orders, err := uc.Orders.ListCompletedMissingSuppression(ctx, uc.BatchSize)
	if err != nil {
		return nil, newDatabaseError("list orders missing suppression", err)
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.OrdersChecked++
		uc.repair(ctx, o, summary)
		if err := uc.Orders.MarkSuppressionChecked(ctx, o.ID, uc.Now().UTC()); err != nil {
			uc.Log.Error("reconcile.mark_checked_failed", "order_id", o.ID, "err", err)
		}
	}

	if uc.StuckAfter > 0 {
		stale, err := uc.Orders.ListStaleProcessing(ctx, uc.Now().UTC().Add(-uc.StuckAfter))
		if err != nil {
			return summary, newDatabaseError("list stale processing orders", err)
		}
		for _, o := range stale {
			summary.StaleProcessing = append(summary.StaleProcessing, o.ID)
			uc.Log.Warn("reconcile.order_stuck", "order_id", o.ID, "claimed_at", o.ClaimedAt,
				"customer_email", o.CustomerEmail, "action", RecoverStuckHint(o.ID, o.PaymentReference))
		}
	}

	return summary, nil
}

// repair re-runs suppression for one order. Failures land in the summary; the
// order is retried on a later pass once others have had a turn.
func (uc *ReconcileSuppressionUseCase) repair(ctx context.Context, o *entity.Order, summary *ReconcileSummary) {
	before, err := uc.Ledger.Repo.ListByOrder(ctx, o.ID)
	if err != nil {
		summary.RepairFailedOrder = append(summary.RepairFailedOrder, o.ID)
		uc.Log.Error("reconcile.list_records_failed", "order_id", o.ID, "err", err)
		return
	}

	report, err := uc.Fulfill.ResumeSuppression(ctx, o)
	if err != nil {
		summary.RepairFailedOrder = append(summary.RepairFailedOrder, o.ID)
		uc.Log.Error("reconcile.resume_failed", "order_id", o.ID, "err", err)
		return
	}
	if len(report.SuppressFailures) > 0 {
		summary.RepairFailedOrder = append(summary.RepairFailedOrder, o.ID)
	} else {
		summary.OrdersRepaired++
	}
	if created := report.SuppressedLeads - len(before); created > 0 {
		summary.RecordsCreated += created
	}
	uc.Log.Info("reconcile.order_repaired", "order_id", o.ID, "suppressed", report.SuppressedLeads, "failures", len(report.SuppressFailures))
}
