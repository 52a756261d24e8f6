package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
)

// ErrPermanent помечает ошибку, после которой сообщение нет смысла
// возвращать в очередь. Такие сообщения уходят в dead-letter очередь.
var ErrPermanent = errors.New("rabbitmq: permanent failure")

// Permanent оборачивает err как ErrPermanent.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Handler обрабатывает тело сообщения.
type Handler func(ctx context.Context, body []byte) error

// Consume читает очередь queue и вызывает handler не более чем в workers
// горутинах. Блокируется до отмены ctx или закрытия канала доставки.
func Consume(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queue string, workers int, handler Handler) error {
	const op = "rabbitmq.Consume"

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return consume(ctx, log, deliveries, workers, handler)
}

func consume(ctx context.Context, log *slog.Logger, deliveries <-chan amqp.Delivery, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sem
					wg.Done()
				}()
				settle(ctx, log, d, handler)
			}(d)
		case <-ctx.Done():
			return nil
		}
	}
}

func settle(ctx context.Context, log *slog.Logger, d amqp.Delivery, handler Handler) {
	log = log.With(slog.String("message_id", d.MessageId))

	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrPermanent):
		log.Warn("dropping message to dead-letter queue", sl.Err(err))
		if rejErr := d.Reject(false); rejErr != nil {
			log.Error("failed to reject message", sl.Err(rejErr))
		}
	default:
		log.Error("failed to handle message, requeue", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
