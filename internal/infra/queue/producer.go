package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/xavierca1/lead-market/internal/entity"
)

// OrderCompletedPayload carries everything CRM sync and the confirmation email
// need, so the consumer never reads the database.
type OrderCompletedPayload struct {
	OrderID          string        `json:"order_id"`
	CustomerID       string        `json:"customer_id"`
	CustomerEmail    string        `json:"customer_email"`
	CustomerName     string        `json:"customer_name,omitempty"`
	PaymentReference string        `json:"payment_reference"`
	TotalCents       int64         `json:"total_cents"`
	LeadCount        int           `json:"lead_count"`
	Leads            []entity.Lead `json:"leads"`
	Origin           string        `json:"origin"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQProducer struct {
	ch publisher
}

func NewProducer(ch *amqp.Channel) *RabbitMQProducer {
	return &RabbitMQProducer{ch: ch}
}

func (p *RabbitMQProducer) PublishOrderCompleted(ctx context.Context, payload OrderCompletedPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    payload.OrderID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish order %s: %w", payload.OrderID, err)
	}
	return nil
}
