package stripe

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func checkoutEventPayload(t *testing.T, eventType string, session map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return body
}

// signedHeader signs payload the way the processor does.
func signedHeader(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func TestConstructEvent(t *testing.T) {
	c := NewClient("sk_test_123", testWebhookSecret)

	session := map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"payment_intent":      "pi_test1",
		"amount_total":        1250,
		"currency":            "usd",
		"payment_status":      "paid",
		"client_reference_id": "fallback-order",
		"customer_details":    map[string]any{"email": "buyer@example.com", "name": "Pat Buyer"},
		"metadata":            map[string]any{"temp_order_id": "pending-1"},
	}

	t.Run("valid signature decodes the session", func(t *testing.T) {
		payload := checkoutEventPayload(t, EventCheckoutCompleted, session)
		ev, err := c.ConstructEvent(payload, signedHeader(payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)

		assert.Equal(t, "evt_1", ev.EventID)
		assert.Equal(t, "cs_test_1", ev.SessionID)
		assert.Equal(t, "pi_test1", ev.PaymentIntentID)
		assert.Equal(t, int64(1250), ev.AmountTotal)
		assert.Equal(t, "buyer@example.com", ev.CustomerEmail)
		assert.Equal(t, "Pat Buyer", ev.CustomerName)
		assert.Equal(t, "pending-1", ev.TempOrderID)
		assert.True(t, ev.Paid())
	})

	t.Run("client_reference_id is the fallback pending id", func(t *testing.T) {
		s := map[string]any{}
		for k, v := range session {
			s[k] = v
		}
		delete(s, "metadata")
		payload := checkoutEventPayload(t, EventCheckoutCompleted, s)
		ev, err := c.ConstructEvent(payload, signedHeader(payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "fallback-order", ev.TempOrderID)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		payload := checkoutEventPayload(t, EventCheckoutCompleted, session)
		_, err := c.ConstructEvent(payload, signedHeader(payload, "whsec_other", time.Now()))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered payload is rejected", func(t *testing.T) {
		payload := checkoutEventPayload(t, EventCheckoutCompleted, session)
		header := signedHeader(payload, testWebhookSecret, time.Now())
		payload[len(payload)-2] = ' '
		_, err := c.ConstructEvent(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("replayed old signature is rejected", func(t *testing.T) {
		payload := checkoutEventPayload(t, EventCheckoutCompleted, session)
		_, err := c.ConstructEvent(payload, signedHeader(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		payload := checkoutEventPayload(t, EventCheckoutCompleted, session)
		_, err := c.ConstructEvent(payload, "")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("other event types are passed through undecoded", func(t *testing.T) {
		payload := checkoutEventPayload(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
		ev, err := c.ConstructEvent(payload, signedHeader(payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "invoice.paid", ev.Type)
		assert.Empty(t, ev.PaymentIntentID)
	})
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithBackend("sk_test_123", testWebhookSecret, NewTestBackend(srv.URL, srv.Client()))
}

func TestLookupPayment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents/pi_test1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "pi_test1", "object": "payment_intent", "amount": 1250, "amount_received": 1250,
			"currency": "usd", "status": "succeeded", "created": 1700000000,
			"metadata": {"source": "storefront"}
		}`))
	})
	mux.HandleFunc("/v1/payment_intents/pi_missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "code": "resource_missing", "message": "No such payment_intent"}}`))
	})
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pi_test1", r.URL.Query().Get("payment_intent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list", "url": "/v1/checkout/sessions", "has_more": false,
			"data": [{
				"id": "cs_test_1", "object": "checkout.session",
				"customer_details": {"email": "buyer@example.com", "name": "Pat Buyer"},
				"metadata": {"temp_order_id": "pending-1"}
			}]
		}`))
	})
	c := newTestClient(t, mux)

	rec, err := c.LookupPayment(t.Context(), "pi_test1")
	require.NoError(t, err)
	assert.Equal(t, "pi_test1", rec.PaymentIntentID)
	assert.Equal(t, "cs_test_1", rec.SessionID)
	assert.Equal(t, int64(1250), rec.AmountCents)
	assert.Equal(t, "pending-1", rec.PendingOrderID)
	assert.Equal(t, "buyer@example.com", rec.CustomerEmail)
	assert.Equal(t, "storefront", rec.Metadata["source"])
	assert.True(t, rec.Succeeded())

	_, err = c.LookupPayment(t.Context(), "pi_missing")
	assert.True(t, errors.Is(err, ErrPaymentNotFound))
}

func TestRefund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_test1", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "500", r.PostForm.Get("amount"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		assert.Equal(t, "bad leads in CA", r.PostForm.Get("metadata[note]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "re_1", "object": "refund", "amount": 500, "status": "succeeded", "payment_intent": "pi_test1"}`))
	})
	c := newTestClient(t, mux)

	res, err := c.Refund(t.Context(), RefundInput{PaymentIntentID: "pi_test1", AmountCents: 500, Reason: "bad leads in CA"})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, int64(500), res.AmountCents)
	assert.Equal(t, "succeeded", res.Status)
}
