package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// NotificationBindingKey selects notification requests on the events exchange.
const NotificationBindingKey = "notification.request.#"

// EventHandler turns one notification request into stored notifications.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.NotificationEvent) error
}

// NotificationConsumer ingests notification requests published by LMS producers.
type NotificationConsumer struct {
	url      string
	exchange string
	queue    string
	handler  EventHandler
	log      *zap.Logger
}

func NewNotificationConsumer(amqpURL, exchange, queue string, handler EventHandler, log *zap.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		url:      amqpURL,
		exchange: exchange,
		queue:    queue,
		handler:  handler,
		log:      log.With(zap.String("queue", queue)),
	}
}

// Run consumes until ctx is cancelled or the connection drops.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopic(ch, c.exchange); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.queue, NotificationBindingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info("notification consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("notification deliveries closed")
			}
			c.handle(ctx, d)
		}
	}
}

// Acknowledger is the subset of amqp.Delivery the consumer settles through.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *NotificationConsumer) handle(ctx context.Context, d amqp.Delivery) {
	c.settle(ctx, d.Body, d.Redelivered, d)
}

// settle decodes and handles one message. Malformed or invalid requests are dropped;
// other failures are requeued once.
func (c *NotificationConsumer) settle(ctx context.Context, body []byte, redelivered bool, ack Acknowledger) {
	var ev models.NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Warn("rejecting malformed notification event", zap.Error(err))
		_ = ack.Nack(false, false)
		return
	}

	err := c.handler.HandleEvent(ctx, ev)
	switch {
	case err == nil:
		_ = ack.Ack(false)
	case apperr.Is(err, apperr.CodeValidation), apperr.Is(err, apperr.CodeNotFound):
		c.log.Warn("rejecting notification event", zap.Int64("user_id", ev.UserID), zap.String("type", ev.Type), zap.Error(err))
		_ = ack.Nack(false, false)
	default:
		c.log.Error("notification event failed", zap.Int64("user_id", ev.UserID), zap.Bool("redelivered", redelivered), zap.Error(err))
		_ = ack.Nack(false, !redelivered)
	}
}
