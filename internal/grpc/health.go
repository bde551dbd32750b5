package grpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"conversation-service/internal/observability"
)

// ServiceName is the health entry reported next to the overall "" status.
const ServiceName = "conversation.ConversationService"

// CheckFunc reports whether the durable store is reachable.
type CheckFunc func(ctx context.Context) error

// Server is the admin gRPC endpoint. It exposes grpc.health.v1 backed by a store probe.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	check  CheckFunc
	logger *zap.Logger
}

func NewServer(check CheckFunc, logger *zap.Logger) *Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{srv: srv, health: hs, check: check, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh probes the store once and publishes the result.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.check(probeCtx)
		cancel()
		if err != nil {
			s.logger.Warn("store health probe failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.set(status)
	return status
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
