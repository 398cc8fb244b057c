package publish

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueNotifier announces finished runs on a durable RabbitMQ queue.
type QueueNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewQueueNotifier(url, queue string) (*QueueNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("publish: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("publish: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("publish: declare queue %s: %w", queue, err)
	}
	return &QueueNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Notify publishes ev as a persistent JSON message.
func (n *QueueNotifier) Notify(ctx context.Context, ev RunEvent) error {
	msg, err := eventMessage(ev)
	if err != nil {
		return err
	}
	if err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish: notify %s: %w", n.queue, err)
	}
	return nil
}

func (n *QueueNotifier) Close() error {
	if err := n.ch.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}

func eventMessage(ev RunEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("publish: encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.RunID,
		Timestamp:    ev.FinishedAt,
		Type:         "airqo.archive.run",
		Body:         body,
	}, nil
}
