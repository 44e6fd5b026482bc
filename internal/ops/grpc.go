package ops

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth: стандартный grpc health, SERVING пока бот жив.
type GRPCHealth struct {
	srv *grpc.Server
	hs  *health.Server
	lis net.Listener
	log *zap.SugaredLogger
}

func ListenGRPCHealth(addr string, log *zap.SugaredLogger) (*GRPCHealth, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc health listen: %w", err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &GRPCHealth{srv: srv, hs: hs, lis: lis, log: log}, nil
}

func (g *GRPCHealth) Addr() string { return g.lis.Addr().String() }

// Serve блокируется до отмены ctx, потом переводит статус в NOT_SERVING и гасит сервер.
func (g *GRPCHealth) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- g.srv.Serve(g.lis) }()
	g.log.Infow("grpc health listening", "addr", g.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		g.hs.Shutdown()
		g.srv.GracefulStop()
		return nil
	}
}

// SetNotServing: перед остановкой остальных компонентов.
func (g *GRPCHealth) SetNotServing() {
	g.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// CheckHealth: клиент для команды healthcheck, аргумент - адрес grpc health.
func CheckHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc dial: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
