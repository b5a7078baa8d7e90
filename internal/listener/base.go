package listener

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
)

// Base carries the description, state machine and signal fan-out shared by
// runtime implementations. Embed it and drive transitions through the
// Begin*/Finish* helpers.
type Base struct {
	impl contract.Implementation
	desc Description

	mu       sync.Mutex
	state    State
	opened   []func()
	closed   []func()
	faulted  []func(error)
	faultErr error
}

// NewBase returns a base in the created state with the runtime-owned
// behaviors already installed.
func NewBase(impl contract.Implementation) *Base {
	b := &Base{impl: impl, state: StateCreated}
	b.desc.Name = impl.Name
	b.desc.Behaviors.Add(&Serialization{Name: impl.Name, MaxItemsInSerializedGraph: binding.Unlimited})
	b.desc.Behaviors.Add(&Authentication{})
	b.desc.Behaviors.Add(&Authorization{})
	return b
}

// Implementation returns the implementation the listener dispatches to.
func (b *Base) Implementation() contract.Implementation {
	return b.impl
}

// Description returns the mutable description.
func (b *Base) Description() *Description {
	return &b.desc
}

// AddEndpoint registers a service endpoint after checking the contract is implemented.
func (b *Base) AddEndpoint(contractName string, params binding.Parameters, address *url.URL) (*Endpoint, error) {
	if address == nil {
		return nil, fmt.Errorf("listener: endpoint for %s has no address", contractName)
	}
	if _, ok := b.impl.Lookup(contractName); !ok {
		return nil, fmt.Errorf("listener: %s does not implement contract %s", b.impl.Name, contractName)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !params.Kind.AcceptsScheme(address.Scheme) {
		return nil, fmt.Errorf("listener: address %s does not match %s binding", address, params.Kind)
	}
	ep := &Endpoint{Kind: EndpointService, Address: address, Contract: contractName, Binding: params}
	if err := b.AddDescribedEndpoint(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// AddDescribedEndpoint appends ep unless the listener has already left the
// created state.
func (b *Base) AddDescribedEndpoint(ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("listener: nil endpoint")
	}
	if st := b.State(); st != StateCreated {
		return fmt.Errorf("listener: cannot add endpoint in state %s", st)
	}
	b.desc.Endpoints.Add(ep)
	return nil
}

// State returns the current communication state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FaultErr returns the error that faulted the listener, if any.
func (b *Base) FaultErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faultErr
}

// OnOpened registers fn for the opened signal.
func (b *Base) OnOpened(fn func()) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.opened = append(b.opened, fn)
	b.mu.Unlock()
}

// OnClosed registers fn for the closed signal.
func (b *Base) OnClosed(fn func()) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.closed = append(b.closed, fn)
	b.mu.Unlock()
}

// OnFaulted registers fn for the faulted signal.
func (b *Base) OnFaulted(fn func(error)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.faulted = append(b.faulted, fn)
	b.mu.Unlock()
}

// BeginOpen moves created → opening.
func (b *Base) BeginOpen() error {
	return b.transition(StateOpening, StateCreated)
}

// FinishOpen moves opening → opened and fires the opened signal.
func (b *Base) FinishOpen() error {
	if err := b.transition(StateOpened, StateOpening); err != nil {
		return err
	}
	b.mu.Lock()
	handlers := append([]func(){}, b.opened...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	return nil
}

// BeginClose moves opened → closing. It reports false when the listener is
// not open, in which case the caller should not close anything.
func (b *Base) BeginClose() bool {
	return b.transition(StateClosing, StateOpened) == nil
}

// FinishClose moves the listener to closed and fires the closed signal once.
func (b *Base) FinishClose() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	handlers := append([]func(){}, b.closed...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Fault moves the listener to faulted and fires the faulted signal. Closed
// and already-faulted listeners ignore the call.
func (b *Base) Fault(err error) {
	b.mu.Lock()
	if b.state == StateClosed || b.state == StateFaulted {
		b.mu.Unlock()
		return
	}
	b.state = StateFaulted
	b.faultErr = err
	handlers := append([]func(error){}, b.faulted...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

// MarkClosed forces the closed state without firing signals, used by Abort.
func (b *Base) MarkClosed() {
	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
}

func (b *Base) transition(to State, from ...State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range from {
		if b.state == f {
			b.state = to
			return nil
		}
	}
	return fmt.Errorf("listener: cannot move from %s to %s", b.state, to)
}
