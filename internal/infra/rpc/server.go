package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"opmcpd/internal/infra/telemetry"
)

// NewServer builds the gRPC server with the engine and health services
// registered.
func NewServer(engine *Engine) *grpc.Server {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	srv.RegisterService(&ServiceDesc, engine)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	return srv
}

// Serve listens until the context is cancelled, then stops gracefully.
func Serve(ctx context.Context, srv *grpc.Server, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rpc")

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("grpc transport listening",
			telemetry.TransportField("grpc"),
			zap.String("addr", addr))
		if err := srv.Serve(listener); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	}
}
