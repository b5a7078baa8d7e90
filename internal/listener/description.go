package listener

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nupi-ai/svchost/internal/binding"
)

// BehaviorKind tags a behavior variant.
type BehaviorKind int

const (
	BehaviorOther BehaviorKind = iota
	BehaviorThrottling
	BehaviorSerialization
	BehaviorDebug
	BehaviorMetadata
	BehaviorDiscovery
	BehaviorAuthentication
	BehaviorAuthorization
)

func (k BehaviorKind) String() string {
	switch k {
	case BehaviorThrottling:
		return "throttling"
	case BehaviorSerialization:
		return "serialization"
	case BehaviorDebug:
		return "debug"
	case BehaviorMetadata:
		return "metadata"
	case BehaviorDiscovery:
		return "discovery"
	case BehaviorAuthentication:
		return "authentication"
	case BehaviorAuthorization:
		return "authorization"
	default:
		return "other"
	}
}

// MandatoryBehaviors are installed by the runtime itself and survive a
// configuration reload.
var MandatoryBehaviors = []BehaviorKind{BehaviorSerialization, BehaviorAuthentication, BehaviorAuthorization}

// Behavior is one host-level policy attached to a listener description.
type Behavior interface {
	Kind() BehaviorKind
}

// Throttling bounds concurrent work accepted by the host.
type Throttling struct {
	MaxConcurrentCalls     int64
	MaxConcurrentInstances int64
	MaxConcurrentSessions  int64
}

func (*Throttling) Kind() BehaviorKind { return BehaviorThrottling }

// Serialization is the service's primary behavior attribute.
type Serialization struct {
	Name                      string
	MaxItemsInSerializedGraph int64
}

func (*Serialization) Kind() BehaviorKind { return BehaviorSerialization }

// Debug controls fault detail visibility.
type Debug struct {
	IncludeExceptionDetailInFaults bool
}

func (*Debug) Kind() BehaviorKind { return BehaviorDebug }

// Metadata publishes a machine-readable service description.
type Metadata struct {
	HTTPGetEnabled bool
	HTTPGetURL     *url.URL
}

func (*Metadata) Kind() BehaviorKind { return BehaviorMetadata }

// AnnouncementEndpoint describes where online/offline announcements go.
type AnnouncementEndpoint struct {
	Address string
}

// DefaultAnnouncementAddress is the SSDP multicast group.
const DefaultAnnouncementAddress = "udp://239.255.255.250:1900"

// Discovery enables peer announcement and probing.
type Discovery struct {
	AnnouncementEndpoints []AnnouncementEndpoint
}

func (*Discovery) Kind() BehaviorKind { return BehaviorDiscovery }

// Authentication and Authorization stand in for runtime-owned security behaviors.
type Authentication struct{}

func (*Authentication) Kind() BehaviorKind { return BehaviorAuthentication }

type Authorization struct{}

func (*Authorization) Kind() BehaviorKind { return BehaviorAuthorization }

// Behaviors is an ordered set of tagged behaviors.
type Behaviors struct {
	items []Behavior
}

// Find returns the first behavior of kind.
func (b *Behaviors) Find(kind BehaviorKind) (Behavior, bool) {
	for _, item := range b.items {
		if item.Kind() == kind {
			return item, true
		}
	}
	return nil, false
}

// Has reports whether a behavior of kind is present.
func (b *Behaviors) Has(kind BehaviorKind) bool {
	_, ok := b.Find(kind)
	return ok
}

// Add appends behavior. Nil values are ignored.
func (b *Behaviors) Add(behavior Behavior) {
	if behavior == nil {
		return
	}
	b.items = append(b.items, behavior)
}

// Remove drops every behavior of kind and reports whether any was removed.
func (b *Behaviors) Remove(kind BehaviorKind) bool {
	kept := b.items[:0]
	removed := false
	for _, item := range b.items {
		if item.Kind() == kind {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	clearTail(b.items, len(kept))
	b.items = kept
	return removed
}

// RetainKinds drops every behavior whose kind is not listed.
func (b *Behaviors) RetainKinds(kinds ...BehaviorKind) {
	allowed := make(map[BehaviorKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	kept := b.items[:0]
	for _, item := range b.items {
		if _, ok := allowed[item.Kind()]; ok {
			kept = append(kept, item)
		}
	}
	clearTail(b.items, len(kept))
	b.items = kept
}

// Len returns the number of behaviors.
func (b *Behaviors) Len() int {
	return len(b.items)
}

// Items returns a copy of the behaviors in insertion order.
func (b *Behaviors) Items() []Behavior {
	out := make([]Behavior, len(b.items))
	copy(out, b.items)
	return out
}

func clearTail(items []Behavior, from int) {
	for i := from; i < len(items); i++ {
		items[i] = nil
	}
}

// FindBehavior returns the first behavior of concrete type T.
func FindBehavior[T Behavior](b *Behaviors) (T, bool) {
	for _, item := range b.items {
		if typed, ok := item.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

// EndpointKind distinguishes service endpoints from infrastructure endpoints.
type EndpointKind int

const (
	EndpointService EndpointKind = iota
	EndpointDiscoveryProbe
)

// Headers are the request headers seen by endpoint filters.
type Headers map[string]string

// Validator inspects request headers and returns a status code. Negative
// codes reject the call.
type Validator func(headers Headers) int

// Rejects reports whether code signals a rejected call.
func Rejects(code int) bool {
	return code < 0
}

// EndpointBehavior is attached to a single endpoint.
type EndpointBehavior interface {
	endpointBehavior()
}

// AuthFilter rejects calls whose headers fail the validator.
type AuthFilter struct {
	Validate Validator
}

func (AuthFilter) endpointBehavior() {}

// Endpoint is an (address, contract, binding) triple registered on a listener.
type Endpoint struct {
	Kind      EndpointKind
	Address   *url.URL
	Contract  string
	Binding   binding.Parameters
	Behaviors []EndpointBehavior
}

// AuthFilters returns the validator filters attached to the endpoint.
func (e *Endpoint) AuthFilters() []AuthFilter {
	var out []AuthFilter
	for _, b := range e.Behaviors {
		if f, ok := b.(AuthFilter); ok && f.Validate != nil {
			out = append(out, f)
		}
	}
	return out
}

// HostPort returns the host:port the endpoint listens on.
func (e *Endpoint) HostPort() (string, error) {
	if e.Address == nil {
		return "", fmt.Errorf("listener: endpoint %s has no address", e.Contract)
	}
	if e.Address.Port() == "" {
		return "", fmt.Errorf("listener: endpoint address %s has no port", e.Address)
	}
	return e.Address.Host, nil
}

// Endpoints is the ordered endpoint list of a listener description.
type Endpoints struct {
	items []*Endpoint
}

// Add appends ep.
func (e *Endpoints) Add(ep *Endpoint) {
	if ep != nil {
		e.items = append(e.items, ep)
	}
}

// Find returns the first endpoint registered at address.
func (e *Endpoints) Find(address *url.URL) *Endpoint {
	if address == nil {
		return nil
	}
	want := canonicalAddress(address)
	for _, ep := range e.items {
		if ep.Address != nil && canonicalAddress(ep.Address) == want {
			return ep
		}
	}
	return nil
}

// Lookup returns the endpoint registered for contract at address.
func (e *Endpoints) Lookup(address *url.URL, contractName string) *Endpoint {
	if address == nil {
		return nil
	}
	want := canonicalAddress(address)
	for _, ep := range e.items {
		if ep.Contract == contractName && ep.Address != nil && canonicalAddress(ep.Address) == want {
			return ep
		}
	}
	return nil
}

// HasKind reports whether an endpoint of kind is present.
func (e *Endpoints) HasKind(kind EndpointKind) bool {
	for _, ep := range e.items {
		if ep.Kind == kind {
			return true
		}
	}
	return false
}

// CountKind returns how many endpoints of kind are present.
func (e *Endpoints) CountKind(kind EndpointKind) int {
	n := 0
	for _, ep := range e.items {
		if ep.Kind == kind {
			n++
		}
	}
	return n
}

// Clear removes every endpoint.
func (e *Endpoints) Clear() {
	e.items = nil
}

// Len returns the number of endpoints.
func (e *Endpoints) Len() int {
	return len(e.items)
}

// Items returns the endpoints in registration order. The returned pointers
// are live; the slice itself is a copy.
func (e *Endpoints) Items() []*Endpoint {
	out := make([]*Endpoint, len(e.items))
	copy(out, e.items)
	return out
}

func canonicalAddress(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Path = strings.TrimSuffix(c.Path, "/")
	return c.String()
}

// Description is the mutable configuration of a listener prior to opening.
type Description struct {
	Name      string
	Endpoints Endpoints
	Behaviors Behaviors
}

// DiscoveryProbeAddress is the address given to the probe endpoint.
const DiscoveryProbeAddress = "urn:svchost:discovery:probe"

// NewDiscoveryProbeEndpoint returns the endpoint answering discovery probes.
func NewDiscoveryProbeEndpoint() *Endpoint {
	u, _ := url.Parse(DiscoveryProbeAddress)
	return &Endpoint{Kind: EndpointDiscoveryProbe, Address: u, Contract: "svchost.discovery.Probe"}
}
