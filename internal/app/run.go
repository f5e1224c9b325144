package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xavierca1/lead-market/internal/infra/http/middleware"
	"github.com/xavierca1/lead-market/internal/infra/queue"
	"github.com/xavierca1/lead-market/internal/infra/worker"
	"github.com/xavierca1/lead-market/internal/usecase"
)

// Run serves HTTP and runs the background consumers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	tokens, err := middleware.ParseAdminTokens(a.Cfg.AdminTokens)
	if err != nil {
		return err
	}
	if tokens.Len() == 0 {
		a.Log.Warn("admin.disabled", "msg", "ADMIN_TOKENS is empty")
	}

	srv := &http.Server{
		Addr:              a.Cfg.HTTPAddr,
		Handler:           a.Router(tokens),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("http.listening", "addr", srv.Addr, "store", a.Cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.Rabbit != nil {
		w := queue.NewWorker(a.Rabbit.Ch, a.Dispatcher, a.Log.With("component", "queue_worker"))
		g.Go(func() error {
			if err := w.Start(ctx, queue.QueueName); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if a.Cfg.ReconcileInterval > 0 {
		rec := worker.NewSuppressionReconciler(a.Reconcile, a.Cfg.ReconcileInterval, a.Log.With("component", "reconciler"))
		rec.OnSummary(func(s *usecase.ReconcileSummary) {
			middleware.RecordLeadsSuppressed(s.RecordsCreated)
		})
		g.Go(func() error {
			rec.Start(ctx)
			return nil
		})
	}

	return g.Wait()
}
