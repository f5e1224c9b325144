package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xavierca1/lead-market/internal/usecase"
)

type Reconciler interface {
	Execute(ctx context.Context) (*usecase.ReconcileSummary, error)
}

// SuppressionReconciler re-runs suppression for completed orders that are
// missing ledger records and reports orders stuck in processing.
type SuppressionReconciler struct {
	reconciler   Reconciler
	tickInterval time.Duration
	log          *slog.Logger
	onSummary    func(*usecase.ReconcileSummary)
}

func NewSuppressionReconciler(r Reconciler, tick time.Duration, log *slog.Logger) *SuppressionReconciler {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = 5 * time.Minute
	}
	return &SuppressionReconciler{reconciler: r, tickInterval: tick, log: log}
}

// OnSummary registers a hook called after every successful pass.
func (w *SuppressionReconciler) OnSummary(fn func(*usecase.ReconcileSummary)) {
	w.onSummary = fn
}

func (w *SuppressionReconciler) Start(ctx context.Context) {
	w.log.Info("reconciler.started", "interval", w.tickInterval.String())

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("reconciler.stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SuppressionReconciler) runOnce(ctx context.Context) {
	summary, err := w.reconciler.Execute(ctx)
	if err != nil {
		w.log.Error("reconciler.pass_failed", "err", err)
		return
	}

	if summary.OrdersChecked > 0 || len(summary.StaleProcessing) > 0 {
		w.log.Info("reconciler.pass",
			"checked", summary.OrdersChecked,
			"repaired", summary.OrdersRepaired,
			"records_created", summary.RecordsCreated,
			"stale_processing", len(summary.StaleProcessing),
			"repair_failed", len(summary.RepairFailedOrder),
		)
	}
	if w.onSummary != nil {
		w.onSummary(summary)
	}
}
