package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"messaging-service/internal/models"
)

var errBusClosed = errors.New("conversation bus closed")

// Relay delivers an event to the subscribers held by this replica.
type Relay interface {
	Deliver(conversationID int64, ev models.ConversationEvent)
}

// busSession is one broker connection: a publish channel plus consume channels on demand.
type busSession interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Subscribe(exchange, pattern string) (<-chan amqp.Delivery, func(), error)
	IsClosed() bool
	Close() error
}

type amqpSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialSession(amqpURL, exchange string) (busSession, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopic(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &amqpSession{conn: conn, ch: ch}, nil
}

func (s *amqpSession) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return s.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Subscribe binds an exclusive auto-delete queue to pattern on its own channel.
func (s *amqpSession) Subscribe(exchange, pattern string) (<-chan amqp.Delivery, func(), error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open consume channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, func() { _ = ch.Close() }, nil
}

func (s *amqpSession) IsClosed() bool {
	return s.conn.IsClosed() || s.ch.IsClosed()
}

func (s *amqpSession) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}

// ConversationBus fans conversation events out across replicas through a topic
// exchange. Each replica consumes from its own exclusive queue. A session lost to a
// broker restart is re-dialed on the next Publish or Run.
type ConversationBus struct {
	mu       sync.Mutex
	sess     busSession
	closed   bool
	dial     func() (busSession, error)
	exchange string
	relay    Relay
	log      *zap.Logger
}

func NewConversationBus(amqpURL, exchange string, relay Relay, log *zap.Logger) (*ConversationBus, error) {
	b := newConversationBus(func() (busSession, error) {
		return dialSession(amqpURL, exchange)
	}, exchange, relay, log)
	if _, err := b.session(); err != nil {
		return nil, err
	}
	return b, nil
}

func newConversationBus(dial func() (busSession, error), exchange string, relay Relay, log *zap.Logger) *ConversationBus {
	return &ConversationBus{dial: dial, exchange: exchange, relay: relay, log: log.With(zap.String("bus", "amqp"))}
}

func routingKey(conversationID int64) string {
	return fmt.Sprintf("conversation.%d", conversationID)
}

func (b *ConversationBus) session() (busSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionLocked()
}

func (b *ConversationBus) sessionLocked() (busSession, error) {
	if b.closed {
		return nil, errBusClosed
	}
	if b.sess != nil && !b.sess.IsClosed() {
		return b.sess, nil
	}
	if b.sess != nil {
		_ = b.sess.Close()
		b.sess = nil
		b.log.Warn("amqp session lost, redialing")
	}
	sess, err := b.dial()
	if err != nil {
		return nil, err
	}
	b.sess = sess
	return sess, nil
}

// Publish is fire-and-forget; messages are transient.
func (b *ConversationBus) Publish(ctx context.Context, conversationID int64, ev models.ConversationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, err := b.sessionLocked()
	if err != nil {
		return err
	}
	return sess.PublishWithContext(ctx, b.exchange, routingKey(conversationID), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
}

// Run consumes fan-out traffic and relays it until ctx is cancelled or the broker
// closes the channel.
func (b *ConversationBus) Run(ctx context.Context) error {
	sess, err := b.session()
	if err != nil {
		return err
	}
	deliveries, stop, err := sess.Subscribe(b.exchange, "conversation.*")
	if err != nil {
		return err
	}
	defer stop()
	b.log.Info("conversation bus consuming")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("conversation bus deliveries closed")
			}
			var ev models.ConversationEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				b.log.Warn("dropping malformed conversation event", zap.Error(err))
				continue
			}
			b.relay.Deliver(ev.ConversationID, ev)
		}
	}
}

func (b *ConversationBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.sess == nil {
		return nil
	}
	err := b.sess.Close()
	b.sess = nil
	return err
}
