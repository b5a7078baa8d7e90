package settings

import (
	"fmt"

	"go.uber.org/multierr"
)

// Validate checks the model invariants and returns every violation found.
func (m *Model) Validate() error {
	var errs error

	for _, name := range m.ServiceNames() {
		svc := m.Services[name]
		if svc.Name != name {
			errs = multierr.Append(errs, fmt.Errorf("settings: service keyed %q is named %q", name, svc.Name))
		}

		seen := make(map[string]struct{}, len(svc.Endpoints))
		for _, ep := range svc.Endpoints {
			if _, err := ep.URL(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("settings: service %s: %w", name, err))
			}
			if !ep.Kind.Valid() {
				errs = multierr.Append(errs, fmt.Errorf("settings: service %s endpoint %s: unknown transport kind", name, ep.Address))
			}
			key := ep.Contract + "\x00" + normalizeKey(ep.Address)
			if _, dup := seen[key]; dup {
				errs = multierr.Append(errs, fmt.Errorf("settings: service %s declares %s at %s twice", name, ep.Contract, ep.Address))
			}
			seen[key] = struct{}{}
		}

		if policy, ok := m.Behaviors.Service(svc.BehaviorName); ok {
			if err := policy.Validate(); err != nil {
				errs = multierr.Append(errs, err)
			}
			if policy.MetadataPort > 0 && len(svc.Endpoints) == 0 {
				errs = multierr.Append(errs, fmt.Errorf("settings: service %s publishes metadata but has no endpoints", name))
			}
		}
	}

	for _, catalog := range m.Bindings.All() {
		for _, name := range catalog.Names() {
			p, _ := catalog.Get(name)
			if err := p.Validate(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	clients := make(map[string]struct{}, len(m.Clients))
	for _, c := range m.Clients {
		if _, err := c.URL(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("settings: client %s: %w", c.Name, err))
		}
		key := normalizeKey(c.Address)
		if _, dup := clients[key]; dup {
			errs = multierr.Append(errs, fmt.Errorf("settings: client address %s declared twice", c.Address))
		}
		clients[key] = struct{}{}
	}

	if m.MetadataPort < 0 || m.MetadataPort > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("settings: metadata port %d out of range", m.MetadataPort))
	}
	return errs
}
