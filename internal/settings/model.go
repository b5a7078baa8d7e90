// Package settings is the typed configuration model a host is provisioned
// from: hosted services, client endpoints, binding and behavior catalogs and
// the model-wide defaults.
package settings

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/nupi-ai/svchost/internal/behavior"
	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
)

const (
	defaultShowErrorDetailToClient = true
	defaultPortSharingEnabled      = true
)

// Model aggregates everything needed to provision a host.
type Model struct {
	// Implementation is supplied by the caller and survives Clear.
	Implementation *contract.Implementation

	Services  map[string]*ServiceDescriptor
	Clients   []*ClientEndpoint
	Bindings  *binding.Catalogs
	Behaviors *behavior.Catalog

	ShowErrorDetailToClient   bool
	PortSharingEnabled        bool
	ClientCallbackBaseAddress string
	// MetadataPort is copied into the policy of every service added
	// afterwards and is used at open time by policies that leave it unset.
	MetadataPort int
	// CallbackHandler receives calls on duplex client endpoints.
	CallbackHandler any
}

// New returns an empty model with default flags.
func New() *Model {
	return &Model{
		Services:                make(map[string]*ServiceDescriptor),
		Bindings:                binding.NewCatalogs(),
		Behaviors:               behavior.NewCatalog(),
		ShowErrorDetailToClient: defaultShowErrorDetailToClient,
		PortSharingEnabled:      defaultPortSharingEnabled,
	}
}

// NewFor returns an empty model bound to impl.
func NewFor(impl contract.Implementation) *Model {
	m := New()
	m.Implementation = &impl
	return m
}

// Resolver returns a binding resolver over the model catalogs that reads the
// model-wide defaults at resolve time.
func (m *Model) Resolver() *binding.Resolver {
	return binding.NewResolver(m.Bindings, func() binding.Defaults {
		return binding.Defaults{
			ClientBaseAddress:  m.ClientCallbackBaseAddress,
			PortSharingEnabled: m.PortSharingEnabled,
		}
	})
}

// ServiceNames returns the hosted service names in lexical order.
func (m *Model) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service returns the descriptor named name.
func (m *Model) Service(name string) (*ServiceDescriptor, bool) {
	svc, ok := m.Services[name]
	return svc, ok
}

// AddService registers impl as a hosted service reachable for c at address
// over kind. Missing binding and behavior entries are filled with defaults;
// an endpoint already present for the same contract and address is kept.
func (m *Model) AddService(impl contract.Implementation, c contract.Contract, address string, kind binding.Kind) error {
	if strings.TrimSpace(impl.Name) == "" {
		return fmt.Errorf("settings: implementation name is empty")
	}
	if c.Name == "" {
		return fmt.Errorf("settings: contract name is empty for %s", impl.Name)
	}
	if !kind.Valid() {
		return &binding.ConfigurationError{Op: "add service", Kind: kind, Name: impl.Name, Err: binding.ErrUnknownKind}
	}
	if _, err := parseAddress(address); err != nil {
		return fmt.Errorf("settings: service %s: %w", impl.Name, err)
	}

	if _, ok := impl.Lookup(c.Name); !ok {
		impl.Contracts = append(append([]contract.Contract(nil), impl.Contracts...), c)
	}
	m.Implementation = &impl

	svc := m.ensureService(impl.Name)
	if _, exists := svc.Endpoint(c.Name, address); !exists {
		svc.Endpoints = append(svc.Endpoints, EndpointDescriptor{
			Address:     address,
			Contract:    c.Name,
			BindingName: c.Name,
			Kind:        kind,
		})
	}

	if _, err := m.Resolver().Resolve(kind, c.Name); err != nil {
		return err
	}

	if _, ok := m.Behaviors.Service(svc.BehaviorName); !ok {
		m.Behaviors.PutService(svc.BehaviorName, behavior.DefaultServicePolicy(svc.BehaviorName, m.ShowErrorDetailToClient, m.MetadataPort))
	}
	return nil
}

// AddServiceOnPort is AddService with an address built from port and
// serviceName: net.tcp for tcp bindings, http otherwise.
func (m *Model) AddServiceOnPort(impl contract.Implementation, c contract.Contract, port int, serviceName string, kind binding.Kind) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("settings: port %d out of range", port)
	}
	return m.AddService(impl, c, LocalAddress(kind, port, serviceName), kind)
}

// LocalAddress returns the loopback address used by AddServiceOnPort.
func LocalAddress(kind binding.Kind, port int, serviceName string) string {
	if kind == binding.ReliableOrderedTCP {
		return fmt.Sprintf("net.tcp://localhost:%d/%s", port, serviceName)
	}
	return fmt.Sprintf("http://localhost:%d/%s", port, serviceName)
}

// AddClient registers an outbound endpoint for c at address and returns it.
// Calling it again for the same address returns the existing endpoint.
func (m *Model) AddClient(c contract.Contract, address string, kind binding.Kind) (*ClientEndpoint, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("settings: client contract name is empty")
	}
	if !kind.Valid() {
		return nil, &binding.ConfigurationError{Op: "add client", Kind: kind, Name: address, Err: binding.ErrUnknownKind}
	}
	u, err := parseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("settings: client %s: %w", c.Name, err)
	}
	key := u.String()

	client := m.Client(key)
	if client == nil {
		client = &ClientEndpoint{
			Name:         key,
			Address:      key,
			Contract:     c.Name,
			BindingName:  key,
			BehaviorName: key,
			Kind:         kind,
		}
		m.Clients = append(m.Clients, client)
	}

	if _, err := m.Resolver().Resolve(client.Kind, client.BindingName); err != nil {
		return nil, err
	}
	if _, ok := m.Behaviors.Client(client.BehaviorName); !ok {
		m.Behaviors.PutClient(client.BehaviorName, behavior.DefaultClientPolicy(client.BehaviorName, m.ShowErrorDetailToClient))
	}
	return client, nil
}

// Client returns the client endpoint registered at address.
func (m *Model) Client(address string) *ClientEndpoint {
	for _, c := range m.Clients {
		if sameAddress(c.Address, address) {
			return c
		}
	}
	return nil
}

// SetClientCallbackBaseAddress records the callback base address for duplex
// bindings and applies it to duplex bindings already in the catalog.
func (m *Model) SetClientCallbackBaseAddress(address string) error {
	if address != "" {
		if _, err := parseAddress(address); err != nil {
			return fmt.Errorf("settings: client callback base address: %w", err)
		}
	}
	m.ClientCallbackBaseAddress = address
	for _, name := range m.Bindings.DuplexHTTP.Names() {
		p, _ := m.Bindings.DuplexHTTP.Get(name)
		p.ClientBaseAddress = address
		m.Bindings.DuplexHTTP.Put(name, p)
	}
	return nil
}

// Clear resets every collection and flag to the values of a fresh model.
// The implementation is kept.
func (m *Model) Clear() {
	m.Services = make(map[string]*ServiceDescriptor)
	m.Clients = nil
	if m.Bindings == nil {
		m.Bindings = binding.NewCatalogs()
	}
	m.Bindings.ClearAll()
	if m.Behaviors == nil {
		m.Behaviors = behavior.NewCatalog()
	}
	m.Behaviors.ClearAll()
	m.ShowErrorDetailToClient = defaultShowErrorDetailToClient
	m.PortSharingEnabled = defaultPortSharingEnabled
	m.ClientCallbackBaseAddress = ""
	m.MetadataPort = 0
	m.CallbackHandler = nil
}

func (m *Model) ensureService(name string) *ServiceDescriptor {
	if svc, ok := m.Services[name]; ok {
		return svc
	}
	svc := &ServiceDescriptor{Name: name, BehaviorName: DefaultBehaviorName(name)}
	m.Services[name] = svc
	return svc
}

func parseAddress(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("address is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("address %q must be absolute", raw)
	}
	return u, nil
}

func sameAddress(a, b string) bool {
	return normalizeKey(a) == normalizeKey(b)
}

func normalizeKey(address string) string {
	return strings.ToLower(strings.TrimSuffix(address, "/"))
}
