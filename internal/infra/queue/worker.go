package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderEventHandler performs the side effects of a completed order.
type OrderEventHandler interface {
	HandleOrderCompleted(ctx context.Context, payload OrderCompletedPayload) error
}

type Worker struct {
	Channel *amqp.Channel
	Handler OrderEventHandler
	Log     *slog.Logger
}

func NewWorker(ch *amqp.Channel, handler OrderEventHandler, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{Channel: ch, Handler: handler, Log: log}
}

// Start consumes queueName until ctx is cancelled or the channel closes.
func (w *Worker) Start(ctx context.Context, queueName string) error {
	msgs, err := w.Channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", queueName, err)
	}

	w.Log.Info("queue.worker.started", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", queueName)
			}
			w.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery acks on success. Malformed or failed messages are rejected
// without requeue and end up in the dead letter queue.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var payload OrderCompletedPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		w.Log.Error("queue.message.malformed", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.Handler.HandleOrderCompleted(ctx, payload); err != nil {
		w.Log.Error("queue.message.failed", "order_id", payload.OrderID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	w.Log.Info("queue.message.done", "order_id", payload.OrderID)
	_ = d.Ack(false)
}
