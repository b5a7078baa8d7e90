package settings

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/multierr"

	"github.com/nupi-ai/svchost/internal/behavior"
	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
)

type echoHandler struct{}

var (
	echoContract  = contract.Contract{Name: "svchost.test.Echo"}
	adminContract = contract.Contract{Name: "svchost.test.Admin"}
)

func echoImpl() contract.Implementation {
	return contract.New("EchoService", echoHandler{}, echoContract)
}

func TestAddServiceFillsDefaults(t *testing.T) {
	t.Parallel()

	m := New()
	m.MetadataPort = 8080
	if err := m.AddService(echoImpl(), echoContract, "net.tcp://localhost:9000/Echo", binding.ReliableOrderedTCP); err != nil {
		t.Fatalf("add service: %v", err)
	}

	svc, ok := m.Service("EchoService")
	if !ok {
		t.Fatalf("service not registered")
	}
	if svc.BehaviorName != "EchoService_Behavior" {
		t.Fatalf("behavior name = %q", svc.BehaviorName)
	}
	if len(svc.Endpoints) != 1 {
		t.Fatalf("expected one endpoint, got %d", len(svc.Endpoints))
	}
	ep := svc.Endpoints[0]
	if ep.Contract != echoContract.Name || ep.BindingName != echoContract.Name || ep.Kind != binding.ReliableOrderedTCP {
		t.Fatalf("unexpected endpoint %+v", ep)
	}

	params, ok := m.Bindings.TCP.Get(echoContract.Name)
	if !ok {
		t.Fatalf("binding not synthesised")
	}
	if !params.PortSharingEnabled {
		t.Fatalf("tcp binding should inherit port sharing default")
	}

	policy, ok := m.Behaviors.Service(svc.BehaviorName)
	if !ok {
		t.Fatalf("behavior policy not created")
	}
	if policy.MetadataPort != 8080 || !policy.ExposeFaultDetails {
		t.Fatalf("policy did not copy model defaults: %+v", policy)
	}
	if m.Implementation == nil || m.Implementation.Name != "EchoService" {
		t.Fatalf("implementation not recorded")
	}
}

func TestAddServiceIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New()
	for i := 0; i < 2; i++ {
		if err := m.AddService(echoImpl(), echoContract, "http://localhost:9001/Echo", binding.SimpleHTTP); err != nil {
			t.Fatalf("add service %d: %v", i, err)
		}
	}
	svc, _ := m.Service("EchoService")
	if len(svc.Endpoints) != 1 {
		t.Fatalf("duplicate endpoint added: %+v", svc.Endpoints)
	}
	if m.Bindings.Len() != 1 || m.Behaviors.Len() != 1 {
		t.Fatalf("catalogs grew: bindings=%d behaviors=%d", m.Bindings.Len(), m.Behaviors.Len())
	}
}

func TestAddServiceAppendsMissingContract(t *testing.T) {
	t.Parallel()

	m := New()
	if err := m.AddService(echoImpl(), adminContract, "http://localhost:9001/Admin", binding.SimpleHTTP); err != nil {
		t.Fatalf("add service: %v", err)
	}
	if _, ok := m.Implementation.Lookup(adminContract.Name); !ok {
		t.Fatalf("admin contract not added to implementation")
	}
}

func TestAddServiceRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		address string
		kind    binding.Kind
	}{
		{"unknown kind", "http://localhost:1/Echo", binding.KindUnknown},
		{"relative address", "Echo", binding.SimpleHTTP},
		{"empty address", "", binding.SimpleHTTP},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := New()
			if err := m.AddService(echoImpl(), echoContract, tc.address, tc.kind); err == nil {
				t.Fatalf("expected error")
			}
			if len(m.Services) != 0 {
				t.Fatalf("service registered despite error")
			}
		})
	}

	err := New().AddService(echoImpl(), echoContract, "http://localhost:1/Echo", binding.Kind(42))
	if !errors.Is(err, binding.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestAddServiceOnPortAddresses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind binding.Kind
		want string
	}{
		{binding.ReliableOrderedTCP, "net.tcp://localhost:9000/Echo"},
		{binding.SimpleHTTP, "http://localhost:9000/Echo"},
		{binding.DuplexHTTP, "http://localhost:9000/Echo"},
		{binding.SecureHTTP, "http://localhost:9000/Echo"},
	}
	for _, tc := range cases {
		m := New()
		if err := m.AddServiceOnPort(echoImpl(), echoContract, 9000, "Echo", tc.kind); err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		svc, _ := m.Service("EchoService")
		if got := svc.Endpoints[0].Address; got != tc.want {
			t.Fatalf("%s: address = %q, want %q", tc.kind, got, tc.want)
		}
	}

	if err := New().AddServiceOnPort(echoImpl(), echoContract, 0, "Echo", binding.SimpleHTTP); err == nil {
		t.Fatalf("expected error for port 0")
	}
}

func TestAddClientUsesAddressAsNames(t *testing.T) {
	t.Parallel()

	m := New()
	client, err := m.AddClient(echoContract, "http://peer:8000/Echo", binding.DuplexHTTP)
	if err != nil {
		t.Fatalf("add client: %v", err)
	}
	if client.Name != "http://peer:8000/Echo" || client.BindingName != client.Name || client.BehaviorName != client.Name {
		t.Fatalf("unexpected client %+v", client)
	}
	if _, ok := m.Bindings.DuplexHTTP.Get(client.BindingName); !ok {
		t.Fatalf("client binding not synthesised")
	}
	if _, ok := m.Behaviors.Client(client.BehaviorName); !ok {
		t.Fatalf("client behavior not created")
	}

	again, err := m.AddClient(echoContract, "http://peer:8000/Echo/", binding.DuplexHTTP)
	if err != nil {
		t.Fatalf("add client again: %v", err)
	}
	if again != client || len(m.Clients) != 1 {
		t.Fatalf("expected existing client to be returned")
	}
}

func TestSetClientCallbackBaseAddress(t *testing.T) {
	t.Parallel()

	m := New()
	if _, err := m.AddClient(echoContract, "http://peer:8000/Echo", binding.DuplexHTTP); err != nil {
		t.Fatalf("add client: %v", err)
	}
	if err := m.SetClientCallbackBaseAddress("http://me:7000/callback"); err != nil {
		t.Fatalf("set callback address: %v", err)
	}
	p, _ := m.Bindings.DuplexHTTP.Get("http://peer:8000/Echo")
	if p.ClientBaseAddress != "http://me:7000/callback" {
		t.Fatalf("existing duplex binding not updated: %q", p.ClientBaseAddress)
	}

	if _, err := m.AddClient(echoContract, "http://other:8000/Echo", binding.DuplexHTTP); err != nil {
		t.Fatalf("add client: %v", err)
	}
	p, _ = m.Bindings.DuplexHTTP.Get("http://other:8000/Echo")
	if p.ClientBaseAddress != "http://me:7000/callback" {
		t.Fatalf("new duplex binding missing callback address: %q", p.ClientBaseAddress)
	}

	if err := m.SetClientCallbackBaseAddress("relative"); err == nil {
		t.Fatalf("expected error for relative address")
	}
}

func TestClearMatchesFreshModel(t *testing.T) {
	t.Parallel()

	m := New()
	m.MetadataPort = 9100
	m.ShowErrorDetailToClient = false
	m.PortSharingEnabled = false
	m.CallbackHandler = echoHandler{}
	if err := m.AddService(echoImpl(), echoContract, "net.tcp://localhost:9000/Echo", binding.ReliableOrderedTCP); err != nil {
		t.Fatalf("add service: %v", err)
	}
	if _, err := m.AddClient(echoContract, "http://peer:8000/Echo", binding.DuplexHTTP); err != nil {
		t.Fatalf("add client: %v", err)
	}
	if err := m.SetClientCallbackBaseAddress("http://me:7000/"); err != nil {
		t.Fatalf("set callback: %v", err)
	}

	bindings := m.Bindings
	m.Clear()

	if m.Implementation == nil {
		t.Fatalf("clear dropped the implementation")
	}
	if m.Bindings != bindings {
		t.Fatalf("clear replaced the binding catalogs instead of emptying them")
	}

	want := New()
	want.Implementation = m.Implementation
	if !reflect.DeepEqual(m, want) {
		t.Fatalf("cleared model differs from fresh model:\n got %+v\nwant %+v", m, want)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	m := New()
	if err := m.AddService(echoImpl(), echoContract, "http://localhost:9000/Echo", binding.SimpleHTTP); err != nil {
		t.Fatalf("add service: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}

	svc, _ := m.Service("EchoService")
	svc.Endpoints = append(svc.Endpoints, svc.Endpoints[0])
	m.Services["Orphan"] = &ServiceDescriptor{Name: "Orphan", BehaviorName: "OrphanPolicy"}
	m.Behaviors.PutService("OrphanPolicy", behavior.DefaultServicePolicy("OrphanPolicy", true, 8080))
	m.MetadataPort = -1

	err := m.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", n, err)
	}
}
