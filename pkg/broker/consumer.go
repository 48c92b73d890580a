package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Handler processes one message body. A nil return acks the message; an
// error sends it through the delayed-retry path until the retry budget is
// gone, then to the dead letter queue.
type Handler func(ctx context.Context, body []byte) error

// Consume reads the main queue until ctx is done.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"queue": c.cfg.Queue,
	}).Info("Broker consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	ctx, span := tracing.StartSpan(ctx, "Broker.HandleDelivery")
	defer span.End()

	retryCount := readRetryCount(delivery)
	logger := c.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":  delivery.MessageId,
		"retry_count": retryCount,
	})

	err := handler(ctx, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Error("Failed to ack message")
		}
		return
	}

	if retryCount < c.cfg.MaxRetries {
		logger.WithError(err).Warnf("Handler failed, scheduling retry %d", retryCount+1)
		if pubErr := c.republishDelayed(ctx, delivery, retryCount+1); pubErr != nil {
			logger.WithError(pubErr).Error("Failed to republish for retry, requeueing")
			_ = delivery.Nack(false, true)
			return
		}
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Error("Failed to ack retried message")
		}
		return
	}

	logger.WithError(err).Error("Handler failed permanently, dead lettering")
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		logger.WithError(nackErr).Error("Failed to nack message")
	}
}

func readRetryCount(delivery amqp.Delivery) int {
	raw, ok := delivery.Headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
