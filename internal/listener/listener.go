// Package listener abstracts the transport runtime a host configures: a
// mutable description of endpoints and behaviors plus open/close lifecycle
// with opened/closed/faulted signals.
package listener

import (
	"net/url"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
)

// Listener is a live RPC listener owned by a host.
type Listener interface {
	// Description returns the mutable description. Changes take effect on Open.
	Description() *Description
	// AddEndpoint registers a service endpoint for contractName.
	AddEndpoint(contractName string, params binding.Parameters, address *url.URL) (*Endpoint, error)
	// AddDescribedEndpoint registers a prebuilt endpoint such as a discovery probe.
	AddDescribedEndpoint(ep *Endpoint) error

	Open() error
	Close() error
	Abort()
	State() State

	OnOpened(func())
	OnClosed(func())
	OnFaulted(func(error))
}

// Runtime creates listeners bound to an implementation.
type Runtime interface {
	CreateListener(impl contract.Implementation) (Listener, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(impl contract.Implementation) (Listener, error)

// CreateListener calls f.
func (f RuntimeFunc) CreateListener(impl contract.Implementation) (Listener, error) {
	return f(impl)
}
