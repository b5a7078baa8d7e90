// Package discovery adds announcement and probe capability to a listener
// and announces hosted endpoints over SSDP.
package discovery

import (
	"github.com/nupi-ai/svchost/internal/listener"
)

// EndpointAdder is the part of a listener the registrar needs to add the
// probe endpoint.
type EndpointAdder interface {
	Description() *listener.Description
	AddDescribedEndpoint(ep *listener.Endpoint) error
}

// Register ensures the listener carries exactly one discovery behavior with a
// single default announcement endpoint and exactly one probe endpoint. It
// must run after service endpoints are configured and before the listener
// opens.
func Register(l EndpointAdder) error {
	desc := l.Description()

	behavior, ok := listener.FindBehavior[*listener.Discovery](&desc.Behaviors)
	if !ok {
		behavior = &listener.Discovery{}
		desc.Behaviors.Add(behavior)
	}
	behavior.AnnouncementEndpoints = []listener.AnnouncementEndpoint{
		{Address: listener.DefaultAnnouncementAddress},
	}

	if desc.Endpoints.HasKind(listener.EndpointDiscoveryProbe) {
		return nil
	}
	return l.AddDescribedEndpoint(listener.NewDiscoveryProbeEndpoint())
}
