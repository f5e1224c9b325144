// Package app wires the lead marketplace runtime: storage, integrations, use
// cases and HTTP routes. Both the API server and leadsctl build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xavierca1/lead-market/internal/config"
	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/database"
	"github.com/xavierca1/lead-market/internal/infra/integration/kommo"
	"github.com/xavierca1/lead-market/internal/infra/integration/sheets"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
	"github.com/xavierca1/lead-market/internal/infra/mail"
	"github.com/xavierca1/lead-market/internal/infra/memstore"
	"github.com/xavierca1/lead-market/internal/infra/notify"
	"github.com/xavierca1/lead-market/internal/infra/queue"
	"github.com/xavierca1/lead-market/internal/usecase"
)

const Version = "1.0.0"

type repositories struct {
	customers    entity.CustomerRepositoryInterface
	orders       entity.OrderRepository
	suppressions entity.SuppressionRepository
	carts        entity.CartRepository
}

// App owns every long-lived dependency.
type App struct {
	Cfg *config.Config
	Log *slog.Logger

	DB     *sql.DB
	Mem    *memstore.Store
	Rabbit *queue.RabbitMQ

	Payments   *stripe.Client
	Inventory  *sheets.Gateway
	Dispatcher *notify.Dispatcher

	Fulfill      *usecase.FulfillOrderUseCase
	Recover      *usecase.RecoverFromPaymentUseCase
	RecoverStuck *usecase.RecoverStuckOrderUseCase
	Replace      *usecase.ReplaceLeadsUseCase
	Refund       *usecase.RefundPaymentUseCase
	Reconcile    *usecase.ReconcileSuppressionUseCase
}

// New connects storage and, when configured, the broker. Integrations that
// are not configured degrade to no-ops so the engine still runs.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Cfg: cfg, Log: log}

	repos, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	a.Payments = stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	a.Inventory = sheets.NewGateway(
		sheets.NewClient(cfg.SheetsBaseURL, cfg.SheetsSpreadsheetID, cfg.SheetsAPIKey, httpClient),
		log.With("component", "inventory"),
	)

	var crm notify.CRM
	if cfg.KommoConfigured() {
		crm = kommo.NewClient(cfg.KommoBaseURL, cfg.KommoAPIToken, cfg.KommoStatusID, httpClient)
	}
	var mailer notify.Mailer
	if cfg.MailConfigured() {
		mailer = mail.NewEmailSender(cfg.MailHost, cfg.MailPort, cfg.MailUser, cfg.MailPass, cfg.MailFrom)
	}
	a.Dispatcher = notify.NewDispatcher(crm, mailer, log.With("component", "notify"))

	var producer usecase.QueueProducerInterface = a.Dispatcher
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.Rabbit = rmq
		producer = queue.NewProducer(rmq.Ch)
	}

	ledger := usecase.NewSuppressionLedger(repos.suppressions)
	a.Fulfill = usecase.NewFulfillOrderUseCase(repos.customers, repos.orders, repos.carts, ledger, a.Inventory, producer, log)
	a.Recover = usecase.NewRecoverFromPaymentUseCase(repos.orders, a.Payments, a.Fulfill, log)
	a.RecoverStuck = usecase.NewRecoverStuckOrderUseCase(repos.orders, a.Payments, a.Fulfill, log)
	a.Replace = usecase.NewReplaceLeadsUseCase(repos.orders, ledger, a.Inventory, log)
	a.Refund = usecase.NewRefundPaymentUseCase(repos.orders, a.Payments, log)
	a.Reconcile = usecase.NewReconcileSuppressionUseCase(repos.orders, ledger, a.Fulfill, cfg.StuckOrderAfter, log)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repositories, error) {
	if a.Cfg.StoreDriver == config.StoreMemory {
		a.Log.Warn("store.memory", "msg", "orders and suppression records are not persisted")
		a.Mem = memstore.New()
		return repositories{
			customers:    a.Mem.Customers(),
			orders:       a.Mem.Orders(),
			suppressions: a.Mem.Suppressions(),
			carts:        a.Mem.Carts(),
		}, nil
	}

	db, err := database.NewDBConnection(ctx, a.Cfg.DatabaseURL)
	if err != nil {
		return repositories{}, fmt.Errorf("connect database: %w", err)
	}
	a.DB = db
	return repositories{
		customers:    database.NewCustomerRepository(db),
		orders:       database.NewOrderRepository(db),
		suppressions: database.NewSuppressionRepository(db),
		carts:        database.NewCartRepository(db),
	}, nil
}

// Migrate applies the schema. It is a no-op for the memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return database.Migrate(ctx, a.DB)
}

func (a *App) Close() error {
	var errs []error
	if a.Rabbit != nil {
		errs = append(errs, a.Rabbit.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
