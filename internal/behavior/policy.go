// Package behavior holds named cross-cutting policies and applies them to a
// listener description.
package behavior

import (
	"fmt"
	"sort"

	"github.com/nupi-ai/svchost/internal/binding"
)

// ServicePolicy is the behavior configuration of one hosted service.
type ServicePolicy struct {
	Name                      string `json:"name" toml:"-"`
	MaxConcurrentCalls        int64  `json:"max_concurrent_calls" toml:"max_concurrent_calls"`
	MaxConcurrentInstances    int64  `json:"max_concurrent_instances" toml:"max_concurrent_instances"`
	MaxConcurrentSessions     int64  `json:"max_concurrent_sessions" toml:"max_concurrent_sessions"`
	MaxItemsInSerializedGraph int64  `json:"max_items_in_serialized_graph" toml:"max_items_in_serialized_graph"`
	ExposeFaultDetails        bool   `json:"expose_fault_details" toml:"expose_fault_details"`
	MetadataPort              int    `json:"metadata_port,omitempty" toml:"metadata_port"`
}

// DefaultServicePolicy returns the policy created for a newly added service.
func DefaultServicePolicy(name string, exposeFaultDetails bool, metadataPort int) ServicePolicy {
	return ServicePolicy{
		Name:                      name,
		MaxConcurrentCalls:        binding.Unlimited,
		MaxConcurrentInstances:    binding.Unlimited,
		MaxConcurrentSessions:     binding.Unlimited,
		MaxItemsInSerializedGraph: binding.Unlimited,
		ExposeFaultDetails:        exposeFaultDetails,
		MetadataPort:              metadataPort,
	}
}

// Validate checks ceilings and the metadata port range.
func (p ServicePolicy) Validate() error {
	if p.MaxConcurrentCalls < 0 || p.MaxConcurrentInstances < 0 || p.MaxConcurrentSessions < 0 {
		return fmt.Errorf("behavior: %s: concurrency ceilings must not be negative", p.Name)
	}
	if p.MaxItemsInSerializedGraph < 0 {
		return fmt.Errorf("behavior: %s: max items in serialized graph must not be negative", p.Name)
	}
	if p.MetadataPort < 0 || p.MetadataPort > 65535 {
		return fmt.Errorf("behavior: %s: metadata port %d out of range", p.Name, p.MetadataPort)
	}
	return nil
}

// ClientPolicy is the behavior configuration of a client or callback endpoint.
type ClientPolicy struct {
	Name                      string `json:"name" toml:"-"`
	MaxItemsInSerializedGraph int64  `json:"max_items_in_serialized_graph" toml:"max_items_in_serialized_graph"`
	ExposeFaultDetails        bool   `json:"expose_fault_details" toml:"expose_fault_details"`
}

// DefaultClientPolicy returns the policy created for a newly added client endpoint.
func DefaultClientPolicy(name string, exposeFaultDetails bool) ClientPolicy {
	return ClientPolicy{
		Name:                      name,
		MaxItemsInSerializedGraph: binding.Unlimited,
		ExposeFaultDetails:        exposeFaultDetails,
	}
}

// Catalog stores service and endpoint behaviors by name.
type Catalog struct {
	services map[string]ServicePolicy
	clients  map[string]ClientPolicy
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		services: make(map[string]ServicePolicy),
		clients:  make(map[string]ClientPolicy),
	}
}

// Service returns the service policy named name.
func (c *Catalog) Service(name string) (ServicePolicy, bool) {
	p, ok := c.services[name]
	return p, ok
}

// PutService stores p under name.
func (c *Catalog) PutService(name string, p ServicePolicy) {
	p.Name = name
	c.services[name] = p
}

// Client returns the endpoint policy named name.
func (c *Catalog) Client(name string) (ClientPolicy, bool) {
	p, ok := c.clients[name]
	return p, ok
}

// PutClient stores p under name.
func (c *Catalog) PutClient(name string, p ClientPolicy) {
	p.Name = name
	c.clients[name] = p
}

// ServiceNames returns service policy names in lexical order.
func (c *Catalog) ServiceNames() []string {
	return sortedKeys(c.services)
}

// ClientNames returns endpoint policy names in lexical order.
func (c *Catalog) ClientNames() []string {
	return sortedKeys(c.clients)
}

// Len returns the total number of policies.
func (c *Catalog) Len() int {
	return len(c.services) + len(c.clients)
}

// ClearAll drops every policy.
func (c *Catalog) ClearAll() {
	c.services = make(map[string]ServicePolicy)
	c.clients = make(map[string]ClientPolicy)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
