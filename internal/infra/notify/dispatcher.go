// Package notify performs the fire-and-forget side effects of a completed
// order: CRM sync and the buyer's confirmation email.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/xavierca1/lead-market/internal/infra/export"
	"github.com/xavierca1/lead-market/internal/infra/integration/kommo"
	"github.com/xavierca1/lead-market/internal/infra/mail"
	"github.com/xavierca1/lead-market/internal/infra/queue"
)

type CRM interface {
	SyncOrder(ctx context.Context, input kommo.SyncOrderInput) (int, error)
}

type Mailer interface {
	SendOrderConfirmation(c mail.OrderConfirmation) error
}

// Dispatcher is both the queue consumer's handler and, when no broker is
// configured, the in-process publisher.
type Dispatcher struct {
	CRM    CRM
	Mailer Mailer
	Log    *slog.Logger
}

func NewDispatcher(crm CRM, mailer Mailer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{CRM: crm, Mailer: mailer, Log: log}
}

// HandleOrderCompleted runs both side effects and reports all failures. The
// email is still attempted when the CRM is down.
func (d *Dispatcher) HandleOrderCompleted(ctx context.Context, p queue.OrderCompletedPayload) error {
	var errs []error

	if d.CRM != nil {
		dealID, err := d.CRM.SyncOrder(ctx, kommo.SyncOrderInput{
			OrderID:          p.OrderID,
			PaymentReference: p.PaymentReference,
			CustomerName:     p.CustomerName,
			Email:            p.CustomerEmail,
			TotalCents:       p.TotalCents,
			LeadCount:        p.LeadCount,
			LeadTypes:        leadTypes(p),
		})
		switch {
		case errors.Is(err, kommo.ErrNotConfigured):
			d.Log.Debug("crm.skipped", "order_id", p.OrderID)
		case err != nil:
			errs = append(errs, fmt.Errorf("crm: %w", err))
		default:
			d.Log.Info("crm.synced", "order_id", p.OrderID, "deal_id", dealID)
		}
	}

	if d.Mailer != nil && p.CustomerEmail != "" {
		var csv bytes.Buffer
		if err := export.WriteLeadsCSV(&csv, p.Leads); err != nil {
			errs = append(errs, fmt.Errorf("export: %w", err))
		} else if err := d.Mailer.SendOrderConfirmation(mail.OrderConfirmation{
			To:               p.CustomerEmail,
			Name:             p.CustomerName,
			OrderID:          p.OrderID,
			PaymentReference: p.PaymentReference,
			LeadCount:        p.LeadCount,
			TotalCents:       p.TotalCents,
			Attachment:       export.Filename(p.OrderID),
			AttachmentData:   csv.Bytes(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			d.Log.Info("email.sent", "order_id", p.OrderID, "to", p.CustomerEmail)
		}
	}

	return errors.Join(errs...)
}

// PublishOrderCompleted handles the event inline.
func (d *Dispatcher) PublishOrderCompleted(ctx context.Context, p queue.OrderCompletedPayload) error {
	return d.HandleOrderCompleted(ctx, p)
}

func leadTypes(p queue.OrderCompletedPayload) []string {
	seen := map[string]struct{}{}
	for _, l := range p.Leads {
		if l.Type != "" {
			seen[string(l.Type)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
