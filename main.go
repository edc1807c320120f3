package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"messaging-service/internal/config"
	grpcserver "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logger"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/service"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const auditRoutingKey = "audit.messaging"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Service.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTelEndpoint, cfg.Service.Name, cfg.Service.Environment, zlog)
	if err != nil {
		zlog.Fatal("failed to init tracing", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to open datastore", zap.Error(err))
	}
	defer st.Close()

	var workers sync.WaitGroup
	checks := map[string]grpcserver.Check{"datastore": st.ping}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, zlog)
	defer auditPublisher.Close()
	dispatchPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.EventsExchange, zlog)
	defer dispatchPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, auditRoutingKey, cfg.Service.Name, cfg.Service.Environment, zlog)

	hub := ws.NewHub(zlog)
	broadcaster, closeBus, err := openBroadcaster(ctx, cfg, hub, checks, &workers, zlog)
	if err != nil {
		zlog.Fatal("failed to start push transport", zap.Error(err))
	}
	defer closeBus()

	chat := service.NewChatService(service.ChatDeps{
		Conversations: st.conversations,
		Messages:      st.messages,
		Users:         st.users,
		Broadcaster:   broadcaster,
		Transport:     cfg.Push.Mode,
		Audit:         audit,
		Log:           zlog.Named("chat"),
		MaxBodyRunes:  cfg.Chat.MaxBodyRunes,
	})
	notifications := service.NewNotificationService(service.NotificationDeps{
		Notifications: st.notifications,
		Preferences:   st.preferences,
		Dispatcher:    dispatchPublisher,
		Audit:         audit,
		Log:           zlog.Named("notifications"),
	})

	if cfg.AMQP.URL != "" {
		consumer := rabbitmq.NewNotificationConsumer(cfg.AMQP.URL, cfg.AMQP.EventsExchange, cfg.AMQP.EventsQueue, notifications, zlog)
		supervise(ctx, &workers, "notification consumer", consumer.Run, zlog)
	}

	verifier := middleware.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		logger.GinMiddleware(zlog),
		otelgin.Middleware(cfg.Service.Name),
		observability.HTTPMetricsMiddleware(),
		cors.New(corsConfig(cfg.CORSOrigins)),
	)

	router.GET("/metrics", gin.WrapH(observability.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := st.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewChatHandler(chat, handlers.DeliveryInfo{
		PushMode:          cfg.Push.Mode,
		AdminPollInterval: cfg.Chat.AdminPollInterval,
		UserPollInterval:  cfg.Chat.UserPollInterval,
	}).RegisterRoutes(api, middleware.RequireAdmin())
	handlers.NewNotificationHandler(notifications).RegisterRoutes(api)

	if cfg.Push.Mode != config.PushOff {
		router.GET("/ws/conversations/:id", ws.NewConversationWebSocketHandler(hub, verifier, chat, zlog).Handle)
	}
	handlers.RegisterDebugRoutes(router, audit, verifier, cfg.DebugRoutes)

	health := grpcserver.NewHealthServer(checks, 10*time.Second, zlog)
	grpcSrv := grpcserver.NewServer()
	health.Register(grpcSrv)
	workers.Add(1)
	go func() {
		defer workers.Done()
		health.Run(ctx)
	}()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		zlog.Fatal("failed to listen grpc", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
	}
	go func() {
		zlog.Info("grpc server listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcSrv.Serve(lis); err != nil {
			zlog.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("push_mode", cfg.Push.Mode),
			zap.String("audit_publisher", rabbitmq.PublisherMode(auditPublisher)),
			zap.String("config_file", cfg.ConfigFileUsed))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("http server error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http server shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	workers.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		zlog.Warn("tracer shutdown", zap.Error(err))
	}
	zlog.Info("server stopped")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	return cfg
}
