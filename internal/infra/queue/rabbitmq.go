package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "ex.orders"
	QueueName    = "q.orders.completed"
	DLQName      = "q.orders.completed.dlq"
	DLXName      = "ex.orders.dlx"
	RoutingKey   = "k.order.completed"
)

type RabbitMQ struct {
	Conn *amqp.Connection
	Ch   *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setupTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	return &RabbitMQ{Conn: conn, Ch: ch}, nil
}

// setupTopology declares the order exchange and its queue. Rejected messages
// go to the dead letter queue for an operator to inspect and replay.
func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, RoutingKey, DLXName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
}

// Healthy reports whether the connection is still open.
func (r *RabbitMQ) Healthy() bool {
	return r != nil && r.Conn != nil && !r.Conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r == nil {
		return nil
	}
	if r.Ch != nil {
		_ = r.Ch.Close()
	}
	if r.Conn != nil {
		return r.Conn.Close()
	}
	return nil
}
