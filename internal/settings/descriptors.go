package settings

import (
	"net/url"

	"github.com/nupi-ai/svchost/internal/binding"
)

// EndpointDescriptor is one configured service endpoint.
type EndpointDescriptor struct {
	Address     string       `json:"address" toml:"address"`
	Contract    string       `json:"contract" toml:"contract"`
	BindingName string       `json:"binding" toml:"binding"`
	Kind        binding.Kind `json:"kind" toml:"kind"`
}

// URL parses the endpoint address.
func (e EndpointDescriptor) URL() (*url.URL, error) {
	return parseAddress(e.Address)
}

// ServiceDescriptor is one hosted service and its endpoints.
type ServiceDescriptor struct {
	Name         string               `json:"name" toml:"name"`
	Endpoints    []EndpointDescriptor `json:"endpoints" toml:"endpoint"`
	BehaviorName string               `json:"behavior" toml:"behavior"`
}

// DefaultBehaviorName returns the behavior name given to a new service.
func DefaultBehaviorName(serviceName string) string {
	return serviceName + "_Behavior"
}

// ServiceName returns the descriptor name.
func (s *ServiceDescriptor) ServiceName() string {
	return s.Name
}

// EndpointAddresses returns the endpoint addresses in declaration order.
func (s *ServiceDescriptor) EndpointAddresses() []string {
	out := make([]string, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		out = append(out, ep.Address)
	}
	return out
}

// Endpoint returns the endpoint for contract at address.
func (s *ServiceDescriptor) Endpoint(contractName, address string) (EndpointDescriptor, bool) {
	for _, ep := range s.Endpoints {
		if ep.Contract == contractName && sameAddress(ep.Address, address) {
			return ep, true
		}
	}
	return EndpointDescriptor{}, false
}

// ClientEndpoint is an outbound or callback endpoint. Name, binding name and
// behavior name all default to the address.
type ClientEndpoint struct {
	Name         string       `json:"name" toml:"name"`
	Address      string       `json:"address" toml:"address"`
	Contract     string       `json:"contract" toml:"contract"`
	BindingName  string       `json:"binding" toml:"binding"`
	BehaviorName string       `json:"behavior" toml:"behavior"`
	Kind         binding.Kind `json:"kind" toml:"kind"`
}

// URL parses the client endpoint address.
func (c ClientEndpoint) URL() (*url.URL, error) {
	return parseAddress(c.Address)
}
