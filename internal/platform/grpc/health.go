package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health service on its own listener.
type HealthServer struct {
	listener net.Listener
	server   *gogrpc.Server
	health   *health.Server

	stopOnce sync.Once
	serveErr chan error
}

// ListenHealth binds addr and registers a health service whose statuses all
// start as NOT_SERVING for the given service names and the overall "" entry.
func ListenHealth(addr string, services ...string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen health %s: %w", addr, err)
	}

	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &HealthServer{
		listener: listener,
		server:   server,
		health:   healthServer,
		serveErr: make(chan error, 1),
	}, nil
}

// Addr returns the bound listener address.
func (h *HealthServer) Addr() net.Addr {
	if h == nil || h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// SetServing flips a service and the overall "" status together.
func (h *HealthServer) SetServing(service string, serving bool) {
	if h == nil || h.health == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	if service != "" {
		h.health.SetServingStatus(service, status)
	}
}

// Start serves health checks in the background.
func (h *HealthServer) Start() {
	go func() {
		h.serveErr <- h.server.Serve(h.listener)
	}()
}

// Stop drains health watchers and stops the gRPC server.
func (h *HealthServer) Stop() error {
	if h == nil || h.server == nil {
		return nil
	}
	var err error
	h.stopOnce.Do(func() {
		h.health.Shutdown()
		h.server.GracefulStop()
		select {
		case serveErr := <-h.serveErr:
			if serveErr != nil && !errors.Is(serveErr, gogrpc.ErrServerStopped) {
				err = serveErr
			}
		case <-time.After(2 * time.Second):
		}
	})
	return err
}

// WaitForHealth blocks until the gRPC health check reports SERVING or the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			if logf != nil {
				logf("gRPC health check is SERVING")
			}
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("waiting for gRPC health: %v", err)
			} else {
				logf("waiting for gRPC health: status %s", response.GetStatus().String())
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < time.Second {
			backoff = min(backoff*2, time.Second)
		}
	}
}
