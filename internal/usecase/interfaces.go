package usecase

import (
	"context"

	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/stripe"
	"github.com/xavierca1/lead-market/internal/infra/queue"
)

// InventoryGateway is the engine's view of the external tabular inventory.
type InventoryGateway interface {
	// FetchLeads returns whatever subset of keys could be read, keyed by the
	// lead key string. The error is non-nil only when nothing could be read.
	FetchLeads(ctx context.Context, keys []entity.LeadKey) (map[string]entity.Lead, error)
	MarkSold(ctx context.Context, key entity.LeadKey, tier entity.Tier) error
	ListAvailable(ctx context.Context, leadType entity.LeadType) ([]entity.Lead, error)
}

// QueueProducerInterface fans a completed order out to CRM and email.
type QueueProducerInterface interface {
	PublishOrderCompleted(ctx context.Context, payload queue.OrderCompletedPayload) error
}

type PaymentProcessor interface {
	LookupPayment(ctx context.Context, paymentIntentID string) (*stripe.PaymentRecord, error)
	Refund(ctx context.Context, input stripe.RefundInput) (*stripe.RefundResult, error)
}
