package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/settings"
)

func startHealthServer(t *testing.T) (addr string, auth func() string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("network not permitted: %v", err)
	}

	var mu sync.Mutex
	var token string

	server := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				mu.Lock()
				token = values[0]
				mu.Unlock()
			}
		}
		return handler(ctx, req)
	}))
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		if err := server.Serve(lis); err != nil {
			t.Logf("grpc serve exited: %v", err)
		}
	}()
	t.Cleanup(server.Stop)

	return lis.Addr().String(), func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	}
}

func tcpParams(t *testing.T) binding.Parameters {
	t.Helper()
	p, err := binding.DefaultParameters(binding.ReliableOrderedTCP, "client", binding.Defaults{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	p.OpenTimeout = 5 * time.Second
	return p
}

func TestDialAttachesToken(t *testing.T) {
	t.Parallel()

	addr, auth := startHealthServer(t)
	ep := settings.ClientEndpoint{Name: "health", Address: "net.tcp://" + addr + "/Health", Kind: binding.ReliableOrderedTCP}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, ep, tcpParams(t), Options{Token: "secret"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if got := auth(); got != "Bearer secret" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestDialTimesOutWhenUnreachable(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("network not permitted: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	params := tcpParams(t)
	params.OpenTimeout = 200 * time.Millisecond
	ep := settings.ClientEndpoint{Name: "gone", Address: "net.tcp://" + addr + "/Gone", Kind: binding.ReliableOrderedTCP}
	if _, err := Dial(context.Background(), ep, params, Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDialRejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	params := tcpParams(t)
	ep := settings.ClientEndpoint{Name: "x", Address: "http://127.0.0.1:1/X", Kind: binding.ReliableOrderedTCP}
	if _, err := Dial(context.Background(), ep, params, Options{}); err == nil {
		t.Fatalf("expected scheme mismatch error")
	}

	params.Security = binding.SecurityMessage
	ep.Address = "net.tcp://127.0.0.1:1/X"
	_, err := Dial(context.Background(), ep, params, Options{})
	if !binding.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDefaultPortForScheme(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"https": "443", "HTTP": "80", "net.tcp": "808", "tcp": "808"}
	for scheme, want := range cases {
		if got := defaultPortForScheme(scheme); got != want {
			t.Fatalf("defaultPortForScheme(%q) = %q, want %q", scheme, got, want)
		}
	}
}
