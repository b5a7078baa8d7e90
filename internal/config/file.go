package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nupi-ai/svchost/internal/behavior"
	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/settings"
)

// fileConfig is the on-disk TOML shape of a settings model. Bindings and
// policies are decoded over their defaults, so only overridden keys need to
// be present.
type fileConfig struct {
	ShowErrorDetailToClient   bool   `toml:"show_error_detail_to_client"`
	PortSharingEnabled        bool   `toml:"port_sharing_enabled"`
	ClientCallbackBaseAddress string `toml:"client_callback_base_address"`
	MetadataPort              int    `toml:"metadata_port"`

	Services []settings.ServiceDescriptor `toml:"service"`
	Clients  []settings.ClientEndpoint    `toml:"client"`

	// Bindings maps kind → binding name → parameters.
	Bindings map[string]map[string]toml.Primitive `toml:"binding"`
	Behavior struct {
		Service map[string]toml.Primitive `toml:"service"`
		Client  map[string]toml.Primitive `toml:"client"`
	} `toml:"behavior"`
}

// LoadFile reads a TOML settings file into a model.
func LoadFile(path string) (*settings.Model, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(ExpandPath(path), &raw)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return materialise(raw, meta)
}

// Decode reads TOML settings from r into a model.
func Decode(r io.Reader) (*settings.Model, error) {
	var raw fileConfig
	meta, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode settings: %w", err)
	}
	return materialise(raw, meta)
}

func materialise(raw fileConfig, meta toml.MetaData) (*settings.Model, error) {
	m := settings.New()

	if meta.IsDefined("show_error_detail_to_client") {
		m.ShowErrorDetailToClient = raw.ShowErrorDetailToClient
	}
	if meta.IsDefined("port_sharing_enabled") {
		m.PortSharingEnabled = raw.PortSharingEnabled
	}
	if meta.IsDefined("client_callback_base_address") {
		m.ClientCallbackBaseAddress = strings.TrimSpace(raw.ClientCallbackBaseAddress)
	}
	if meta.IsDefined("metadata_port") {
		m.MetadataPort = raw.MetadataPort
	}

	defaults := binding.Defaults{ClientBaseAddress: m.ClientCallbackBaseAddress, PortSharingEnabled: m.PortSharingEnabled}
	for kindName, entries := range raw.Bindings {
		kind, err := binding.ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("config: binding.%s: %w", kindName, err)
		}
		catalog, err := m.Bindings.For(kind)
		if err != nil {
			return nil, err
		}
		for name, prim := range entries {
			p, err := binding.DefaultParameters(kind, name, defaults)
			if err != nil {
				return nil, err
			}
			if err := meta.PrimitiveDecode(prim, &p); err != nil {
				return nil, fmt.Errorf("config: binding.%s.%s: %w", kindName, name, err)
			}
			catalog.Put(name, p)
		}
	}

	for name, prim := range raw.Behavior.Service {
		p := behavior.DefaultServicePolicy(name, m.ShowErrorDetailToClient, m.MetadataPort)
		if err := meta.PrimitiveDecode(prim, &p); err != nil {
			return nil, fmt.Errorf("config: behavior.service.%s: %w", name, err)
		}
		m.Behaviors.PutService(name, p)
	}
	for name, prim := range raw.Behavior.Client {
		p := behavior.DefaultClientPolicy(name, m.ShowErrorDetailToClient)
		if err := meta.PrimitiveDecode(prim, &p); err != nil {
			return nil, fmt.Errorf("config: behavior.client.%s: %w", name, err)
		}
		m.Behaviors.PutClient(name, p)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}

	resolver := m.Resolver()
	for i := range raw.Services {
		svc := raw.Services[i]
		svc.Name = strings.TrimSpace(svc.Name)
		if svc.Name == "" {
			return nil, fmt.Errorf("config: service #%d has no name", i+1)
		}
		if _, dup := m.Services[svc.Name]; dup {
			return nil, fmt.Errorf("config: service %s declared twice", svc.Name)
		}
		if svc.BehaviorName == "" {
			svc.BehaviorName = settings.DefaultBehaviorName(svc.Name)
		}
		for j := range svc.Endpoints {
			ep := &svc.Endpoints[j]
			if ep.BindingName == "" {
				ep.BindingName = ep.Contract
			}
			if _, err := resolver.Resolve(ep.Kind, ep.BindingName); err != nil {
				return nil, fmt.Errorf("config: service %s endpoint %s: %w", svc.Name, ep.Address, err)
			}
		}
		if _, ok := m.Behaviors.Service(svc.BehaviorName); !ok {
			m.Behaviors.PutService(svc.BehaviorName, behavior.DefaultServicePolicy(svc.BehaviorName, m.ShowErrorDetailToClient, m.MetadataPort))
		}
		m.Services[svc.Name] = &svc
	}

	for i := range raw.Clients {
		c := raw.Clients[i]
		if c.Name == "" {
			c.Name = c.Address
		}
		if c.BindingName == "" {
			c.BindingName = c.Address
		}
		if c.BehaviorName == "" {
			c.BehaviorName = c.Address
		}
		if _, err := resolver.Resolve(c.Kind, c.BindingName); err != nil {
			return nil, fmt.Errorf("config: client %s: %w", c.Name, err)
		}
		if _, ok := m.Behaviors.Client(c.BehaviorName); !ok {
			m.Behaviors.PutClient(c.BehaviorName, behavior.DefaultClientPolicy(c.BehaviorName, m.ShowErrorDetailToClient))
		}
		m.Clients = append(m.Clients, &c)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid settings: %w", err)
	}
	return m, nil
}
