package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/xavierca1/lead-market/internal/infra/http/middleware"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
	"github.com/xavierca1/lead-market/internal/usecase"
)

const maxWebhookBody = 1 << 16

// EventVerifier checks the processor signature and decodes the event.
type EventVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (*stripe.CheckoutEvent, error)
}

type OrderFulfiller interface {
	Execute(ctx context.Context, src usecase.FulfillmentSource) (*usecase.FulfillmentReport, error)
}

type WebhookHandler struct {
	Verifier EventVerifier
	Fulfill  OrderFulfiller
	Log      *slog.Logger
}

func NewWebhookHandler(verifier EventVerifier, fulfill OrderFulfiller, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{Verifier: verifier, Fulfill: fulfill, Log: log}
}

type webhookAck struct {
	Received bool   `json:"received"`
	Ignored  string `json:"ignored,omitempty"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidation, Message: "unreadable body"})
		return
	}

	event, err := h.Verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, stripe.ErrInvalidSignature) {
			h.Log.Warn("webhook.invalid_signature", "err", err)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_signature", Message: "signature verification failed"})
			return
		}
		h.Log.Error("webhook.decode_failed", "err", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidation, Message: "malformed event"})
		return
	}

	log := h.Log.With("event_id", event.EventID, "event_type", event.Type)
	switch event.Type {
	case stripe.EventCheckoutCompleted, stripe.EventAsyncPaymentSucceeded:
	default:
		log.Debug("webhook.ignored")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: event.Type})
		return
	}
	if !event.Paid() {
		// async_payment_succeeded follows for delayed methods
		log.Info("webhook.awaiting_payment", "session_id", event.SessionID, "payment_status", event.PaymentStatus)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: "payment_status_" + event.PaymentStatus})
		return
	}

	src := usecase.FromPaymentEvent(usecase.PaymentConfirmation{
		EventID:          event.EventID,
		SessionID:        event.SessionID,
		PaymentReference: event.PaymentIntentID,
		AmountCents:      event.AmountTotal,
		Currency:         event.Currency,
		CustomerEmail:    event.CustomerEmail,
		CustomerName:     event.CustomerName,
		PendingOrderID:   event.TempOrderID,
	})

	report, err := h.Fulfill.Execute(r.Context(), src)
	if err != nil {
		middleware.RecordFulfillment(src.Origin, string(usecase.OutcomeFailed))
		recovery := ""
		if report != nil {
			recovery = report.Recovery
		}
		writeErrorWithRecovery(w, log, err, false, recovery)
		return
	}

	middleware.RecordFulfillment(report.Source, string(report.Outcome))
	middleware.RecordLeadsSuppressed(report.SuppressedLeads)
	if report.Degraded {
		middleware.RecordIntegrationError("fulfillment")
	}
	writeJSON(w, http.StatusOK, report)
}
