package behavior

import (
	"github.com/nupi-ai/svchost/internal/listener"
)

// Service is the view of a service descriptor the applier consults.
type Service interface {
	ServiceName() string
	EndpointAddresses() []string
}

// Apply installs policy onto desc using find-or-create semantics so repeated
// calls converge on the same behavior set. Throttling, serialization and
// debug behaviors are never removed. Metadata publication is attached only
// when the policy names a port and the service has endpoints; if the address
// cannot be derived the metadata behavior is removed and a *MetadataError is
// returned. No other error is returned.
func Apply(desc *listener.Description, svc Service, policy ServicePolicy) error {
	behaviors := &desc.Behaviors

	throttling, ok := listener.FindBehavior[*listener.Throttling](behaviors)
	if !ok {
		throttling = &listener.Throttling{}
		behaviors.Add(throttling)
	}
	throttling.MaxConcurrentCalls = policy.MaxConcurrentCalls
	throttling.MaxConcurrentInstances = policy.MaxConcurrentInstances
	throttling.MaxConcurrentSessions = policy.MaxConcurrentSessions

	serialization, ok := listener.FindBehavior[*listener.Serialization](behaviors)
	if !ok {
		serialization = &listener.Serialization{Name: svc.ServiceName()}
		behaviors.Add(serialization)
	}
	serialization.MaxItemsInSerializedGraph = policy.MaxItemsInSerializedGraph

	debug, ok := listener.FindBehavior[*listener.Debug](behaviors)
	if !ok {
		debug = &listener.Debug{}
		behaviors.Add(debug)
	}
	debug.IncludeExceptionDetailInFaults = policy.ExposeFaultDetails

	addresses := svc.EndpointAddresses()
	if policy.MetadataPort <= 0 || len(addresses) == 0 {
		return nil
	}

	metadata, ok := listener.FindBehavior[*listener.Metadata](behaviors)
	if !ok {
		metadata = &listener.Metadata{}
		behaviors.Add(metadata)
	}
	metadata.HTTPGetEnabled = true
	u, err := MetadataURL(addresses[0], policy.MetadataPort)
	if err != nil {
		behaviors.Remove(listener.BehaviorMetadata)
		return &MetadataError{Service: svc.ServiceName(), Address: addresses[0], Err: err}
	}
	metadata.HTTPGetURL = u
	return nil
}
