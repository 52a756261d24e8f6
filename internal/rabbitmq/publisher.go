package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// Publisher публикует сообщения в очередь платёжных событий.
type Publisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewPublisher создаёт издателя для очереди queue.
func NewPublisher(ch *amqp.Channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

// Publish сериализует message в JSON и публикует его с сохранением на диск.
// messageID становится идентификатором сообщения AMQP.
func (p *Publisher) Publish(ctx context.Context, messageID string, message any) error {
	const op = "rabbitmq.Publish"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(
		Exchange,
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
