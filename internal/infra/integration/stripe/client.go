package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gostripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found at processor")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Client wraps the processor SDK. The SDK handles transport, retries and
// idempotency keys; this type only maps processor objects to ours.
type Client struct {
	api           *client.API
	webhookSecret string
}

func NewClient(secretKey, webhookSecret string) *Client {
	return NewClientWithBackend(secretKey, webhookSecret, nil)
}

// NewClientWithBackend points the SDK at a custom backend (tests, proxies).
// A nil backend uses the SDK defaults.
func NewClientWithBackend(secretKey, webhookSecret string, backend gostripe.Backend) *Client {
	var backends *gostripe.Backends
	if backend != nil {
		backends = &gostripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &Client{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

// NewTestBackend builds an API backend that talks to url, e.g. an
// httptest.Server.
func NewTestBackend(url string, httpClient *http.Client) gostripe.Backend {
	cfg := &gostripe.BackendConfig{URL: gostripe.String(url), MaxNetworkRetries: gostripe.Int64(0)}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return gostripe.GetBackendWithConfig(gostripe.APIBackend, cfg)
}

// ConstructEvent verifies the signature header and decodes checkout session
// events. Other event types come back with only EventID and Type set.
func (c *Client) ConstructEvent(payload []byte, sigHeader string) (*CheckoutEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &CheckoutEvent{EventID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted && out.Type != EventAsyncPaymentSucceeded {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}

	var session gostripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	out.SessionID = session.ID
	out.AmountTotal = session.AmountTotal
	out.Currency = string(session.Currency)
	out.PaymentStatus = string(session.PaymentStatus)
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
		out.CustomerName = session.CustomerDetails.Name
	}
	if out.CustomerEmail == "" {
		out.CustomerEmail = session.CustomerEmail
	}
	out.TempOrderID = pendingOrderID(session.Metadata, session.ClientReferenceID)
	return out, nil
}

// LookupPayment reads the payment intent and the checkout session that
// created it. The session is where the pending order id lives.
func (c *Client) LookupPayment(ctx context.Context, paymentIntentID string) (*PaymentRecord, error) {
	params := &gostripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment intent %s: %w", paymentIntentID, err)
	}

	rec := &PaymentRecord{
		PaymentIntentID: pi.ID,
		AmountCents:     pi.Amount,
		Currency:        string(pi.Currency),
		Status:          string(pi.Status),
		CustomerEmail:   pi.ReceiptEmail,
		Metadata:        map[string]string{},
		Created:         time.Unix(pi.Created, 0).UTC(),
	}
	if pi.AmountReceived > 0 {
		rec.AmountCents = pi.AmountReceived
	}
	for k, v := range pi.Metadata {
		rec.Metadata[k] = v
	}

	listParams := &gostripe.CheckoutSessionListParams{PaymentIntent: gostripe.String(paymentIntentID)}
	listParams.Context = ctx
	it := c.api.CheckoutSessions.List(listParams)
	if it.Next() {
		s := it.CheckoutSession()
		rec.SessionID = s.ID
		for k, v := range s.Metadata {
			rec.Metadata[k] = v
		}
		if s.CustomerDetails != nil {
			if s.CustomerDetails.Email != "" {
				rec.CustomerEmail = s.CustomerDetails.Email
			}
			rec.CustomerName = s.CustomerDetails.Name
		}
		if s.ClientReferenceID != "" {
			rec.Metadata["client_reference_id"] = s.ClientReferenceID
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list checkout sessions for %s: %w", paymentIntentID, err)
	}

	rec.PendingOrderID = pendingOrderID(rec.Metadata, rec.Metadata["client_reference_id"])
	return rec, nil
}

// Refund issues a refund for part or all of a payment. The operator's note is
// kept as refund metadata; the processor only accepts a fixed reason list.
func (c *Client) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	params := &gostripe.RefundParams{
		PaymentIntent: gostripe.String(in.PaymentIntentID),
		Amount:        gostripe.Int64(in.AmountCents),
		Reason:        gostripe.String(string(gostripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if note := strings.TrimSpace(in.Reason); note != "" {
		params.AddMetadata("note", note)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("refund %s: %w", in.PaymentIntentID, err)
	}

	out := &RefundResult{
		RefundID:        r.ID,
		PaymentIntentID: in.PaymentIntentID,
		AmountCents:     r.Amount,
		Status:          string(r.Status),
	}
	if r.PaymentIntent != nil && r.PaymentIntent.ID != "" {
		out.PaymentIntentID = r.PaymentIntent.ID
	}
	return out, nil
}

func pendingOrderID(metadata map[string]string, clientReferenceID string) string {
	if id := strings.TrimSpace(metadata[metadataTempOrderID]); id != "" {
		return id
	}
	return strings.TrimSpace(clientReferenceID)
}

func isNotFound(err error) bool {
	var serr *gostripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.HTTPStatusCode == http.StatusNotFound || serr.Code == gostripe.ErrorCodeResourceMissing
}
