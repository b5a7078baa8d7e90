package host

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/discovery"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/listener/grpcrt"
	"github.com/nupi-ai/svchost/internal/portshare"
	"github.com/nupi-ai/svchost/internal/settings"
)

type silentAnnouncer struct{}

func (silentAnnouncer) Announce([]discovery.Announcement) error { return nil }
func (silentAnnouncer) Withdraw() error                         { return nil }

func TestGRPCHostRejectsCallsButStaysOpen(t *testing.T) {
	t.Parallel()

	healthContract := contract.FromServiceDesc(&healthpb.Health_ServiceDesc)
	impl := contract.New(t.Name(), health.NewServer(), healthContract)
	m := settings.NewFor(impl)
	m.PortSharingEnabled = false
	if err := m.AddService(impl, healthContract, "net.tcp://127.0.0.1:0/Health", binding.ReliableOrderedTCP); err != nil {
		t.Fatalf("add service: %v", err)
	}

	rt := grpcrt.New(grpcrt.WithAnnouncerFactory(func() grpcrt.Announcer { return silentAnnouncer{} }))
	s, err := New(impl, Options{Runtime: rt, Settings: m, PortSharing: portshare.StarterFunc(func() error { return nil })})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	defer s.Dispose()

	rec := &recorder{}
	rec.attach(s)
	s.Open(func(listener.Headers) int { return -1 })
	if s.State() != listener.StateOpened {
		_, faults := rec.snapshot()
		t.Fatalf("state = %s, faults %v", s.State(), faults)
	}

	addr := s.Listener().(*grpcrt.Listener).Addresses()[0]
	conn, err := grpc.NewClient("passthrough:///"+addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)
	for i := 0; i < 3; i++ {
		if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); status.Code(err) != codes.PermissionDenied {
			t.Fatalf("call %d: expected PermissionDenied, got %v", i, err)
		}
	}
	if s.State() != listener.StateOpened {
		t.Fatalf("host left open state: %s", s.State())
	}

	s.Close()
	events, _ := rec.snapshot()
	if len(events) != 2 || events[0] != "opened" || events[1] != "closed" {
		t.Fatalf("unexpected events %v", events)
	}
}
