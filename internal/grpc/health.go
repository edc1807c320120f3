// Package grpc hosts the internal gRPC server. It only serves grpc.health.v1, with a
// status that follows the datastore and bus dependencies.
package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"messaging-service/internal/observability"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthServer keeps grpc.health.v1 status in sync with dependency checks.
type HealthServer struct {
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	log      *zap.Logger
}

func NewHealthServer(checks map[string]Check, interval time.Duration, log *zap.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthServer{
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		log:      log,
	}
}

// NewServer builds a gRPC server with tracing and request metrics.
func NewServer() *grpc.Server {
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Run probes immediately and then on every interval until ctx ends.
func (h *HealthServer) Run(ctx context.Context) {
	h.probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthServer) probe(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		status := healthpb.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			h.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
		}
		h.health.SetServingStatus(name, status)
	}
	h.health.SetServingStatus("", overall)
}

// Shutdown reports NOT_SERVING for every service.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
}
