package grpc

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"realtime-chat/internal/observability"
)

// AdminServer exposes the gRPC health protocol for the chat service.
type AdminServer struct {
	server  *grpc.Server
	health  *health.Server
	service string
}

// NewAdminServer builds the server. The service starts NOT_SERVING until
// SetServing is called.
func NewAdminServer(service string) *AdminServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	a := &AdminServer{server: server, health: hs, service: service}
	a.SetServing(false)
	return a
}

// SetServing updates the reported status of the service and of the server
// as a whole.
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(a.service, status)
}

// Monitor runs check every interval and reflects its result until ctx ends.
func (a *AdminServer) Monitor(ctx context.Context, interval time.Duration, check func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()
			if err != nil {
				logrus.WithError(err).Warn("health check failed")
			}
			a.SetServing(err == nil)
		}
	}
}

// Serve blocks serving on lis.
func (a *AdminServer) Serve(lis net.Listener) error {
	return a.server.Serve(lis)
}

// Stop marks the service as not serving and drains in-flight calls.
func (a *AdminServer) Stop() {
	a.health.Shutdown()
	a.server.GracefulStop()
}
