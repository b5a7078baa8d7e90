// Package contract describes the service implementations a host can expose.
package contract

import (
	"fmt"
	"strings"

	"google.golang.org/grpc"
)

// Contract names one RPC surface a service implements.
type Contract struct {
	Name string
	Desc *grpc.ServiceDesc // runtime descriptor used to register the handler
}

// FromServiceDesc builds a contract named after the descriptor's service name.
func FromServiceDesc(desc *grpc.ServiceDesc) Contract {
	if desc == nil {
		return Contract{}
	}
	return Contract{Name: desc.ServiceName, Desc: desc}
}

// Implementation is the concrete object a listener dispatches calls to,
// together with the contracts it satisfies.
type Implementation struct {
	Name      string
	Handler   any
	Contracts []Contract
}

// New returns an implementation exposing the given contracts. The name
// defaults to the first contract name when empty.
func New(name string, handler any, contracts ...Contract) Implementation {
	name = strings.TrimSpace(name)
	if name == "" && len(contracts) > 0 {
		name = contracts[0].Name
	}
	return Implementation{Name: name, Handler: handler, Contracts: contracts}
}

// Lookup returns the contract registered under name.
func (i Implementation) Lookup(name string) (Contract, bool) {
	for _, c := range i.Contracts {
		if c.Name == name {
			return c, true
		}
	}
	return Contract{}, false
}

// Validate reports whether the implementation can be handed to a runtime.
func (i Implementation) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("contract: implementation name is empty")
	}
	if i.Handler == nil {
		return fmt.Errorf("contract: implementation %q has no handler", i.Name)
	}
	seen := make(map[string]struct{}, len(i.Contracts))
	for _, c := range i.Contracts {
		if c.Name == "" {
			return fmt.Errorf("contract: implementation %q has an unnamed contract", i.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("contract: implementation %q lists contract %q twice", i.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
