// Package redisbus fans conversation events out across replicas over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"messaging-service/internal/models"
)

const channelPrefix = "conversation:"

// Relay delivers an event to the subscribers held by this replica.
type Relay interface {
	Deliver(conversationID int64, ev models.ConversationEvent)
}

type Bus struct {
	cli   *redis.Client
	relay Relay
	log   *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// New connects and pings Redis.
func New(ctx context.Context, url string, relay Relay, log *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{cli: cli, relay: relay, log: log.With(zap.String("bus", "redis")), ready: make(chan struct{})}, nil
}

func Channel(conversationID int64) string {
	return channelPrefix + strconv.FormatInt(conversationID, 10)
}

func (b *Bus) Publish(ctx context.Context, conversationID int64, ev models.ConversationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, Channel(conversationID), payload).Err()
}

// Subscribed is closed once Run holds an active pattern subscription.
func (b *Bus) Subscribed() <-chan struct{} {
	return b.ready
}

// Run relays every conversation channel to the local relay until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	ps := b.cli.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("redis bus subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64)
			if err != nil {
				b.log.Warn("ignoring unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			var ev models.ConversationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping malformed conversation event", zap.Error(err))
				continue
			}
			b.relay.Deliver(id, ev)
		}
	}
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.cli.Ping(ctx).Err()
}

func (b *Bus) Close() error {
	return b.cli.Close()
}
