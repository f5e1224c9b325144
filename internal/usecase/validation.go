package usecase

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func ValidatePaymentConfirmation(p PaymentConfirmation) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(p.PaymentReference) == "" {
		errors = append(errors, ValidationError{"payment_intent", "is required"})
	}
	if strings.TrimSpace(p.PendingOrderID) == "" {
		errors = append(errors, ValidationError{"temp_order_id", "is required (metadata.temp_order_id or client_reference_id)"})
	}
	if p.AmountCents < 0 {
		errors = append(errors, ValidationError{"amount_total", "must not be negative"})
	}
	if strings.TrimSpace(p.CustomerEmail) != "" {
		if _, err := mail.ParseAddress(p.CustomerEmail); err != nil {
			errors = append(errors, ValidationError{"customer_details.email", "is invalid"})
		}
	}

	return errors
}

func ValidateRefundInput(in RefundInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(in.PaymentReference) == "" {
		errors = append(errors, ValidationError{"payment_reference", "is required"})
	}
	if in.AmountCents <= 0 {
		errors = append(errors, ValidationError{"amount_cents", "must be greater than zero"})
	}
	if strings.TrimSpace(in.Reason) == "" {
		errors = append(errors, ValidationError{"reason", "is required"})
	} else if len(in.Reason) > 500 {
		errors = append(errors, ValidationError{"reason", "must not exceed 500 characters"})
	}

	return errors
}

func isPaymentIntentID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), stripe.PaymentIntentPrefix)
}
