// Package host drives the lifecycle of a listener provisioned from a
// settings model: open with an optional header validator, close, dispose and
// opened/closed/faulted notifications.
package host

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/svchost/internal/behavior"
	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/discovery"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/portshare"
	"github.com/nupi-ai/svchost/internal/settings"
)

// Options configure a Service.
type Options struct {
	// Runtime creates the listener. Required.
	Runtime listener.Runtime
	// Settings provisions endpoints and behaviors. When nil the listener is
	// opened with whatever the runtime configured by itself.
	Settings *settings.Model
	Logger   *zap.Logger
	// PortSharing is started before opening when the model enables port
	// sharing. Defaults to portshare.ReusePort.
	PortSharing portshare.Starter
}

// Service hosts one implementation. Open and Close are meant to be driven
// from a single goroutine; events fire on whatever goroutine the runtime
// signals from and must not block.
type Service struct {
	impl        contract.Implementation
	runtime     listener.Runtime
	settings    *settings.Model
	logger      *zap.Logger
	portSharing portshare.Starter

	mu       sync.Mutex
	listener listener.Listener

	stateMu sync.Mutex
	state   listener.State

	opened  observers[OpenedEvent]
	closed  observers[ClosedEvent]
	faulted observers[*FaultInfo]
}

// New returns a closed host for impl. When impl has no name the model's
// implementation is used.
func New(impl contract.Implementation, opts Options) (*Service, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("host: runtime is required")
	}
	if impl.Name == "" && opts.Settings != nil && opts.Settings.Implementation != nil {
		impl = *opts.Settings.Implementation
	}
	if impl.Name == "" {
		return nil, fmt.Errorf("host: implementation is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	starter := opts.PortSharing
	if starter == nil {
		starter = portshare.ReusePort{}
	}
	return &Service{
		impl:        impl,
		runtime:     opts.Runtime,
		settings:    opts.Settings,
		logger:      logger.Named("host").With(zap.String("service", impl.Name)),
		portSharing: starter,
		state:       listener.StateClosed,
	}, nil
}

// Name returns the hosted implementation name.
func (s *Service) Name() string {
	return s.impl.Name
}

// State returns the host state. A host without a listener is closed.
func (s *Service) State() listener.State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Listener returns the held listener, or nil.
func (s *Service) Listener() listener.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// OnServerOpened subscribes fn and returns its unsubscribe func. Handlers
// run while Open or Close holds the host lock and must not call Listener,
// Open, Close or Dispose.
func (s *Service) OnServerOpened(fn func(OpenedEvent)) func() {
	return s.opened.add(fn)
}

// OnServerClosed subscribes fn and returns its unsubscribe func.
func (s *Service) OnServerClosed(fn func(ClosedEvent)) func() {
	return s.closed.add(fn)
}

// OnServerFaulted subscribes fn and returns its unsubscribe func. Failures
// of Open and Close are only reported here.
func (s *Service) OnServerFaulted(fn func(*FaultInfo)) func() {
	return s.faulted.add(fn)
}

// Open provisions and opens a listener. It is a no-op while a listener is
// held. validator, when non-nil, is consulted for every call on every
// endpoint. Errors are reported through OnServerFaulted.
func (s *Service) Open(validator listener.Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l := s.listener; l != nil {
		if l.State() != listener.StateClosed {
			return
		}
		// Evicted by another host.
		s.release(l)
	}
	if fault := s.open(validator); fault != nil {
		s.raiseFault(fault)
	}
}

func (s *Service) open(validator listener.Validator) *FaultInfo {
	s.setState(listener.StateOpening)

	if s.settings != nil && s.settings.PortSharingEnabled {
		if err := s.portSharing.Start(); err != nil {
			s.logger.Warn("port sharing unavailable", zap.Error(err))
		}
	}

	evict(s.impl.Name)

	l, err := s.runtime.CreateListener(s.impl)
	if err != nil {
		return s.failure("create listener", err)
	}

	if s.settings != nil {
		if err := s.configure(l); err != nil {
			l.Abort()
			return s.failure("configure", err)
		}
	}

	if validator != nil {
		for _, ep := range l.Description().Endpoints.Items() {
			ep.Behaviors = append(ep.Behaviors, listener.AuthFilter{Validate: validator})
		}
	}

	s.subscribe(l)
	s.listener = l
	track(s.impl.Name, s, l)

	if err := l.Open(); err != nil {
		// A faulted listener has already raised the event through subscribe.
		if l.State() == listener.StateFaulted {
			return nil
		}
		return s.failure("open", err)
	}
	return nil
}

func (s *Service) failure(op string, err error) *FaultInfo {
	return &FaultInfo{Service: s.impl.Name, Op: op, Err: err}
}

// configure replaces whatever the runtime set up with the endpoints and
// behaviors the model describes. Runtime-mandated behaviors are kept.
func (s *Service) configure(l listener.Listener) error {
	m := s.settings
	desc := l.Description()
	desc.Endpoints.Clear()
	desc.Behaviors.RetainKinds(listener.MandatoryBehaviors...)

	resolver := m.Resolver()
	for _, name := range m.ServiceNames() {
		svc := m.Services[name]
		for _, ep := range svc.Endpoints {
			params, err := resolver.Resolve(ep.Kind, ep.BindingName)
			if err != nil {
				return err
			}
			u, err := ep.URL()
			if err != nil {
				return fmt.Errorf("host: service %s: %w", name, err)
			}
			if existing := desc.Endpoints.Lookup(u, ep.Contract); existing != nil {
				existing.Binding = params
				continue
			}
			if _, err := l.AddEndpoint(ep.Contract, params, u); err != nil {
				return err
			}
		}

		policy, ok := m.Behaviors.Service(svc.BehaviorName)
		if !ok {
			policy = behavior.DefaultServicePolicy(svc.BehaviorName, m.ShowErrorDetailToClient, m.MetadataPort)
		}
		if policy.MetadataPort == 0 {
			policy.MetadataPort = m.MetadataPort
		}
		if err := behavior.Apply(desc, svc, policy); err != nil {
			if !behavior.IsMetadataError(err) {
				return err
			}
			s.logger.Warn("metadata publication disabled", zap.Error(err))
		}
	}

	return discovery.Register(l)
}

func (s *Service) subscribe(l listener.Listener) {
	l.OnOpened(func() {
		s.setState(listener.StateOpened)
		s.opened.emit(OpenedEvent{Service: s.impl.Name})
	})
	l.OnClosed(func() {
		s.setState(listener.StateClosed)
		s.closed.emit(ClosedEvent{Service: s.impl.Name})
	})
	l.OnFaulted(func(err error) {
		s.raiseFault(s.failure("listener", err))
	})
}

func (s *Service) raiseFault(fault *FaultInfo) {
	s.setState(listener.StateFaulted)
	s.logger.Error("host faulted", zap.String("op", fault.Op), zap.Error(fault.Err))
	s.faulted.emit(fault)
}

// Close gracefully closes an open listener and releases it. A faulted host
// aborts its listener and returns to closed. Any other state is a no-op.
// Errors are reported through OnServerFaulted.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

func (s *Service) close() {
	l := s.listener
	switch s.State() {
	case listener.StateOpened:
		if l == nil {
			s.setState(listener.StateClosed)
			return
		}
		s.setState(listener.StateClosing)
		err := l.Close()
		s.release(l)
		if err != nil {
			s.raiseFault(s.failure("close", err))
			return
		}
		// A listener that was already closed raises no signal.
		if s.State() == listener.StateClosing {
			s.setState(listener.StateClosed)
		}
	case listener.StateFaulted:
		if l != nil {
			l.Abort()
			s.release(l)
		}
		s.setState(listener.StateClosed)
	default:
		if l != nil && l.State() == listener.StateClosed {
			s.release(l)
		}
	}
}

// evicted runs when another host with the same implementation aborted this
// host's listener. The listener stays held until Open, Close or Dispose
// releases it.
func (s *Service) evicted() {
	s.stateMu.Lock()
	was := s.state
	if was == listener.StateOpened || was == listener.StateOpening {
		s.state = listener.StateClosed
	}
	s.stateMu.Unlock()
	if was == listener.StateOpened {
		s.logger.Warn("listener evicted by another host")
		s.closed.emit(ClosedEvent{Service: s.impl.Name})
	}
}

func (s *Service) release(l listener.Listener) {
	untrack(s.impl.Name, l)
	s.listener = nil
}

// Dispose closes the host and drops every subscriber. It runs once.
func (s *Service) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
	if l := s.listener; l != nil {
		l.Abort()
		s.release(l)
		s.setState(listener.StateClosed)
	}
	s.opened.clear()
	s.closed.clear()
	s.faulted.clear()
}

func (s *Service) setState(state listener.State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
