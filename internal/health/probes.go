package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// TCPProbe is ready once address accepts a connection.
func TCPProbe(address string) Probe {
	return func(ctx context.Context) (bool, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false, err
		}
		conn.Close()
		return true, nil
	}
}

// HTTPProbe is ready once a GET on url answers with a 2xx or 3xx status.
// Redirects are not followed. A nil client uses http.DefaultTransport.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := c.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return true, nil
		}
		return false, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
}

// GRPCProbe is ready once the grpc.health.v1 service at target reports
// SERVING for service. An empty service checks the server as a whole.
func GRPCProbe(target, service string) Probe {
	return func(ctx context.Context) (bool, error) {
		conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return false, fmt.Errorf("create gRPC client for %s: %w", target, err)
		}
		defer conn.Close()

		resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return false, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return false, fmt.Errorf("gRPC health status %s", resp.GetStatus())
		}
		return true, nil
	}
}
