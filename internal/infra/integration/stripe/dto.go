package stripe

import "time"

// PaymentIntentPrefix starts every payment intent id.
const PaymentIntentPrefix = "pi_"

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	metadataTempOrderID        = "temp_order_id"
	sessionPaymentStatusPaid   = "paid"
	sessionPaymentStatusNoNeed = "no_payment_required"
)

// CheckoutEvent is the part of a verified checkout event fulfillment needs.
type CheckoutEvent struct {
	EventID         string
	Type            string
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	CustomerName    string
	// TempOrderID comes from metadata.temp_order_id, falling back to
	// client_reference_id.
	TempOrderID   string
	PaymentStatus string
}

// Paid reports whether the session has settled. A completed session for a
// delayed payment method is followed by async_payment_succeeded.
func (e *CheckoutEvent) Paid() bool {
	return e.PaymentStatus == "" || e.PaymentStatus == sessionPaymentStatusPaid || e.PaymentStatus == sessionPaymentStatusNoNeed
}

// PaymentRecord is the processor's own view of a payment, used when the
// webhook never arrived.
type PaymentRecord struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	SessionID       string            `json:"session_id,omitempty"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	CustomerEmail   string            `json:"customer_email,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	PendingOrderID  string            `json:"pending_order_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Created         time.Time         `json:"created"`
}

func (r *PaymentRecord) Succeeded() bool {
	return r.Status == "succeeded"
}

type RefundInput struct {
	PaymentIntentID string
	AmountCents     int64
	Reason          string
}

type RefundResult struct {
	RefundID        string `json:"refund_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
	Status          string `json:"status"`
}
