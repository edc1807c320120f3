package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpcserver "messaging-service/internal/grpc"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/redisbus"
	"messaging-service/internal/repositories"
	"messaging-service/internal/repositories/memory"
	"messaging-service/internal/service"
	"messaging-service/internal/ws"
)

type stores struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
	preferences   repositories.PreferenceRepository
	users         repositories.UserDirectory

	ping  grpcserver.Check
	close func() error
}

func (s stores) Close() {
	if s.close != nil {
		_ = s.close()
	}
}

// openStores selects postgres or, with db.dsn=memory, the in-process repositories.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (stores, error) {
	if cfg.DB.InMemory() {
		log.Warn("using in-memory repositories; data is lost on restart")
		store := memory.NewStore()
		users := memory.NewUserDirectory()
		users.Implicit = true
		return stores{
			conversations: memory.NewConversationRepo(store),
			messages:      memory.NewMessageRepo(store),
			notifications: memory.NewNotificationRepo(store),
			preferences:   memory.NewPreferenceRepo(store),
			users:         users,
			ping:          func(context.Context) error { return nil },
		}, nil
	}

	database, err := db.Connect(ctx, cfg.DB, time.Minute, log)
	if err != nil {
		return stores{}, err
	}
	return sqlStores(database), nil
}

func sqlStores(database *sqlx.DB) stores {
	return stores{
		conversations: repositories.NewConversationRepo(database),
		messages:      repositories.NewMessageRepo(database),
		notifications: repositories.NewNotificationRepo(database),
		preferences:   repositories.NewPreferenceRepo(database),
		users:         repositories.NewUserRepo(database),
		ping:          database.PingContext,
		close:         database.Close,
	}
}

// openBroadcaster builds the push transport for push.mode. Cross-replica buses relay
// into the local hub. A nil broadcaster means poll-only delivery.
func openBroadcaster(ctx context.Context, cfg *config.Config, hub *ws.Hub, checks map[string]grpcserver.Check, workers *sync.WaitGroup, log *zap.Logger) (service.Broadcaster, func(), error) {
	noop := func() {}
	switch cfg.Push.Mode {
	case config.PushLocal:
		return hub, noop, nil
	case config.PushRedis:
		bus, err := redisbus.New(ctx, cfg.Redis.URL, hub, log)
		if err != nil {
			return nil, noop, err
		}
		checks["redis"] = bus.Ping
		supervise(ctx, workers, "redis bus", bus.Run, log)
		return bus, func() { _ = bus.Close() }, nil
	case config.PushAMQP:
		bus, err := rabbitmq.NewConversationBus(cfg.AMQP.URL, cfg.AMQP.ConversationsExchange, hub, log)
		if err != nil {
			return nil, noop, err
		}
		supervise(ctx, workers, "amqp conversation bus", bus.Run, log)
		return bus, func() { _ = bus.Close() }, nil
	case config.PushOff:
		return nil, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown push mode %q", cfg.Push.Mode)
}

// supervise runs fn until ctx ends, restarting it with backoff when it fails.
func supervise(ctx context.Context, workers *sync.WaitGroup, name string, fn func(context.Context) error, log *zap.Logger) {
	workers.Add(1)
	go func() {
		defer workers.Done()
		backoff := time.Second
		for {
			err := fn(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Warn("worker stopped, restarting", zap.String("worker", name), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}
