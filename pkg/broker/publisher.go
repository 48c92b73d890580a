package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

const retryCountHeader = "x-retry-count"

// Publish sends a persistent JSON message to the main exchange with a fresh
// message id and a zero retry count.
func (c *Client) Publish(ctx context.Context, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "Broker.Publish")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	messageID := uuid.NewString()
	err = c.channel.PublishWithContext(ctx, c.cfg.Exchange, c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
		Headers: amqp.Table{
			retryCountHeader: int32(0),
		},
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to publish message")
		return err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": messageID,
	}).Debug("Published message")
	return nil
}

// republishDelayed pushes a failed delivery through the delay exchange with
// an incremented retry count. The TTL on the delay queue brings it back.
func (c *Client) republishDelayed(ctx context.Context, delivery amqp.Delivery, retryCount int) error {
	return c.channel.PublishWithContext(ctx, c.cfg.delayExchange(), c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    delivery.MessageId,
		Body:         delivery.Body,
		Headers: amqp.Table{
			retryCountHeader: int32(retryCount),
		},
	})
}
