package grpc

import (
	"context"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthProbeTimeout = time.Second
	healthBackoffStart = 100 * time.Millisecond
	healthBackoffMax   = time.Second
)

// WaitForHealth polls the health service until service reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := healthBackoffStart
	for {
		status, err := probeHealth(ctx, client, service)
		switch {
		case err == nil && status == grpc_health_v1.HealthCheckResponse_SERVING:
			return nil
		case err != nil:
			logf("waiting for gRPC health: %v", err)
		default:
			logf("waiting for gRPC health: status %s", status)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, healthBackoffMax)
	}
}

func probeHealth(ctx context.Context, client grpc_health_v1.HealthClient, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	resp, err := client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
