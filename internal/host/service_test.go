package host

import (
	"errors"
	"sync"
	"testing"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/portshare"
	"github.com/nupi-ai/svchost/internal/settings"
)

var echoContract = contract.Contract{Name: "svchost.test.Echo"}

type echoHandler struct{}

type customBehavior struct{}

func (customBehavior) Kind() listener.BehaviorKind { return listener.BehaviorOther }

type fakeListener struct {
	*listener.Base
	openErr   error
	closeErr  error
	closeHook func()

	mu      sync.Mutex
	opens   int
	aborted int
}

func (f *fakeListener) Open() error {
	if err := f.BeginOpen(); err != nil {
		return err
	}
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	if f.openErr != nil {
		f.Fault(f.openErr)
		return f.openErr
	}
	return f.FinishOpen()
}

func (f *fakeListener) Close() error {
	if !f.BeginClose() {
		return nil
	}
	if f.closeHook != nil {
		f.closeHook()
	}
	f.FinishClose()
	return f.closeErr
}

func (f *fakeListener) Abort() {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
	f.MarkClosed()
}

type fakeRuntime struct {
	mu        sync.Mutex
	created   []*fakeListener
	createErr error
	openErr   error
	closeErr  error
	closeHook func()
}

func (r *fakeRuntime) CreateListener(impl contract.Implementation) (listener.Listener, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	l := &fakeListener{Base: listener.NewBase(impl), openErr: r.openErr, closeErr: r.closeErr, closeHook: r.closeHook}
	// Runtimes may install their own defaults; the host must replace them.
	l.Description().Behaviors.Add(customBehavior{})
	l.Description().Behaviors.Add(&listener.Throttling{MaxConcurrentCalls: 1})
	r.mu.Lock()
	r.created = append(r.created, l)
	r.mu.Unlock()
	return l, nil
}

func (r *fakeRuntime) last() *fakeListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return nil
	}
	return r.created[len(r.created)-1]
}

func (r *fakeRuntime) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

type recorder struct {
	mu     sync.Mutex
	events []string
	faults []*FaultInfo
}

func (r *recorder) attach(s *Service) {
	s.OnServerOpened(func(OpenedEvent) { r.add("opened", nil) })
	s.OnServerClosed(func(ClosedEvent) { r.add("closed", nil) })
	s.OnServerFaulted(func(f *FaultInfo) { r.add("faulted", f) })
}

func (r *recorder) add(name string, f *FaultInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	if f != nil {
		r.faults = append(r.faults, f)
	}
}

func (r *recorder) snapshot() ([]string, []*FaultInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]*FaultInfo(nil), r.faults...)
}

func newModel(t *testing.T, addresses ...string) (*settings.Model, contract.Implementation) {
	t.Helper()
	impl := contract.New(t.Name(), echoHandler{}, echoContract)
	m := settings.NewFor(impl)
	for _, addr := range addresses {
		if err := m.AddService(impl, echoContract, addr, binding.ReliableOrderedTCP); err != nil {
			t.Fatalf("add service %s: %v", addr, err)
		}
	}
	return m, impl
}

func newHost(t *testing.T, rt listener.Runtime, m *settings.Model, impl contract.Implementation) *Service {
	t.Helper()
	s, err := New(impl, Options{
		Runtime:     rt,
		Settings:    m,
		PortSharing: portshare.StarterFunc(func() error { return nil }),
	})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(s.Dispose)
	return s
}

func TestOpenThenCloseRaisesOpenedThenClosed(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	if got := s.State(); got != listener.StateClosed {
		t.Fatalf("initial state = %s", got)
	}
	s.Open(nil)
	if got := s.State(); got != listener.StateOpened {
		t.Fatalf("state after open = %s", got)
	}
	s.Close()
	if got := s.State(); got != listener.StateClosed {
		t.Fatalf("state after close = %s", got)
	}

	events, _ := rec.snapshot()
	if len(events) != 2 || events[0] != "opened" || events[1] != "closed" {
		t.Fatalf("unexpected events %v", events)
	}
	if s.Listener() != nil {
		t.Fatalf("listener still held after close")
	}
}

func TestOpenTwiceDoesNotReconfigure(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)

	s.Open(nil)
	desc := rt.last().Description()
	endpoints, behaviors := desc.Endpoints.Len(), desc.Behaviors.Len()

	m.MetadataPort = 8080
	s.Open(nil)

	if rt.count() != 1 {
		t.Fatalf("second open created another listener")
	}
	if desc.Endpoints.Len() != endpoints || desc.Behaviors.Len() != behaviors {
		t.Fatalf("second open mutated the description")
	}
	if rt.last().opens != 1 {
		t.Fatalf("listener opened %d times", rt.last().opens)
	}
}

func TestOpenReplacesRuntimeDefaults(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo", "net.tcp://localhost:9001/Echo")
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	s.Open(nil)

	desc := rt.last().Description()
	if desc.Behaviors.Has(listener.BehaviorOther) {
		t.Fatalf("runtime default behavior survived configuration")
	}
	for _, kind := range append(listener.MandatoryBehaviors,
		listener.BehaviorThrottling, listener.BehaviorDebug, listener.BehaviorDiscovery) {
		if !desc.Behaviors.Has(kind) {
			t.Fatalf("missing %s behavior", kind)
		}
	}

	throttling, _ := listener.FindBehavior[*listener.Throttling](&desc.Behaviors)
	if throttling.MaxConcurrentCalls != binding.Unlimited {
		t.Fatalf("throttling not taken from the model policy: %+v", throttling)
	}

	if got := desc.Endpoints.CountKind(listener.EndpointService); got != 2 {
		t.Fatalf("expected 2 service endpoints, got %d", got)
	}
	if got := desc.Endpoints.CountKind(listener.EndpointDiscoveryProbe); got != 1 {
		t.Fatalf("expected 1 probe endpoint, got %d", got)
	}
}

func TestMetadataAddressDerivedFromFirstEndpoint(t *testing.T) {
	t.Parallel()

	impl := contract.New(t.Name(), echoHandler{}, echoContract)
	m := settings.NewFor(impl)
	m.MetadataPort = 8080
	if err := m.AddService(impl, echoContract, "net.tcp://localhost:9000/Foo/Bar", binding.ReliableOrderedTCP); err != nil {
		t.Fatalf("add service: %v", err)
	}
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	s.Open(nil)

	md, ok := listener.FindBehavior[*listener.Metadata](&rt.last().Description().Behaviors)
	if !ok {
		t.Fatalf("metadata behavior missing")
	}
	if got := md.HTTPGetURL.String(); got != "http://localhost:8080/Bar/metadata" {
		t.Fatalf("metadata url = %q", got)
	}
}

func TestModelMetadataPortSetAfterAddServiceIsPublished(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Foo/Bar")
	m.MetadataPort = 8080
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	s.Open(nil)

	md, ok := listener.FindBehavior[*listener.Metadata](&rt.last().Description().Behaviors)
	if !ok {
		t.Fatalf("metadata behavior missing")
	}
	if got := md.HTTPGetURL.String(); got != "http://localhost:8080/Bar/metadata" {
		t.Fatalf("metadata url = %q", got)
	}
}

func TestMalformedMetadataAddressIsNotFatal(t *testing.T) {
	t.Parallel()

	impl := contract.New(t.Name(), echoHandler{}, echoContract)
	m := settings.NewFor(impl)
	m.MetadataPort = 8080
	if err := m.AddService(impl, echoContract, "net.tcp://localhost:9000", binding.ReliableOrderedTCP); err != nil {
		t.Fatalf("add service: %v", err)
	}
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Open(nil)

	if s.State() != listener.StateOpened {
		t.Fatalf("state = %s, want opened", s.State())
	}
	if rt.last().Description().Behaviors.Has(listener.BehaviorMetadata) {
		t.Fatalf("metadata behavior should have been removed")
	}
	if _, faults := rec.snapshot(); len(faults) != 0 {
		t.Fatalf("unexpected faults %v", faults)
	}
}

func TestValidatorAttachedToEveryEndpoint(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo", "net.tcp://localhost:9001/Echo")
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)

	s.Open(func(listener.Headers) int { return -1 })

	endpoints := rt.last().Description().Endpoints.Items()
	if len(endpoints) != 3 {
		t.Fatalf("expected 3 endpoints, got %d", len(endpoints))
	}
	for _, ep := range endpoints {
		filters := ep.AuthFilters()
		if len(filters) != 1 {
			t.Fatalf("endpoint %s has %d filters", ep.Address, len(filters))
		}
		if code := filters[0].Validate(listener.Headers{}); !listener.Rejects(code) {
			t.Fatalf("filter does not call the validator")
		}
	}
	if s.State() != listener.StateOpened {
		t.Fatalf("state = %s", s.State())
	}
}

func TestListenerOpenFailureFaultsOnce(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	boom := errors.New("address in use")
	rt := &fakeRuntime{openErr: boom}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Open(nil)

	events, faults := rec.snapshot()
	if len(events) != 1 || events[0] != "faulted" {
		t.Fatalf("unexpected events %v", events)
	}
	if !errors.Is(faults[0], boom) {
		t.Fatalf("fault does not wrap the cause: %v", faults[0])
	}
	if s.State() != listener.StateFaulted {
		t.Fatalf("state = %s, want faulted", s.State())
	}

	first := rt.last()
	s.Close()
	if s.State() != listener.StateClosed {
		t.Fatalf("state after close = %s", s.State())
	}
	if first.aborted == 0 {
		t.Fatalf("faulted listener was not aborted")
	}

	rt.openErr = nil
	s.Open(nil)
	if rt.count() != 2 || s.State() != listener.StateOpened {
		t.Fatalf("reopen after fault failed: listeners=%d state=%s", rt.count(), s.State())
	}
}

func TestCreateListenerFailureFaults(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{createErr: errors.New("no runtime")}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Open(nil)

	_, faults := rec.snapshot()
	if len(faults) != 1 || faults[0].Op != "create listener" {
		t.Fatalf("unexpected faults %v", faults)
	}
	if s.Listener() != nil {
		t.Fatalf("listener held after failed creation")
	}
}

func TestUnknownBindingKindFaultsBeforeOpening(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	svc, _ := m.Service(impl.Name)
	svc.Endpoints[0].Kind = binding.Kind(99)

	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Open(nil)

	_, faults := rec.snapshot()
	if len(faults) != 1 || !binding.IsConfigurationError(faults[0]) {
		t.Fatalf("expected one configuration fault, got %v", faults)
	}
	l := rt.last()
	if l.opens != 0 {
		t.Fatalf("listener opened despite configuration error")
	}
	if l.aborted == 0 {
		t.Fatalf("unopened listener was not released")
	}
}

func TestCloseFailureIsReported(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{closeErr: errors.New("drain timeout")}
	s := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Open(nil)
	s.Close()

	_, faults := rec.snapshot()
	if len(faults) != 1 || faults[0].Op != "close" {
		t.Fatalf("expected close fault, got %v", faults)
	}
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	s := newHost(t, &fakeRuntime{}, m, impl)
	rec := &recorder{}
	rec.attach(s)

	s.Close()
	if events, _ := rec.snapshot(); len(events) != 0 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestOpenEvictsStaleListenerForSameImplementation(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	first := newHost(t, rt, m, impl)
	second := newHost(t, rt, m, impl)

	first.Open(nil)
	stale := rt.last()
	second.Open(nil)

	if stale.aborted == 0 {
		t.Fatalf("stale listener was not force-closed")
	}
	if second.State() != listener.StateOpened {
		t.Fatalf("second host state = %s", second.State())
	}
	if first.State() != listener.StateClosed {
		t.Fatalf("evicted host state = %s", first.State())
	}
}

func TestEvictedHostClosesAndReopens(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	first := newHost(t, rt, m, impl)
	second := newHost(t, rt, m, impl)
	rec := &recorder{}
	rec.attach(first)

	first.Open(nil)
	second.Open(nil)

	events, faults := rec.snapshot()
	if len(events) != 2 || events[0] != "opened" || events[1] != "closed" {
		t.Fatalf("evicted host events = %v", events)
	}
	if len(faults) != 0 {
		t.Fatalf("eviction raised faults: %v", faults)
	}

	first.Close()
	first.Close()
	if first.State() != listener.StateClosed || first.Listener() != nil {
		t.Fatalf("after close: state %s, listener %v", first.State(), first.Listener())
	}

	first.Open(nil)
	if first.State() != listener.StateOpened {
		t.Fatalf("reopen state = %s", first.State())
	}
	if second.State() != listener.StateClosed {
		t.Fatalf("second host should be evicted, state %s", second.State())
	}
	first.Dispose()
	second.Dispose()
	if first.State() != listener.StateClosed || second.State() != listener.StateClosed {
		t.Fatalf("dispose left states %s / %s", first.State(), second.State())
	}
}

func TestEvictedHostReopensWithoutClose(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	first := newHost(t, rt, m, impl)
	second := newHost(t, rt, m, impl)

	first.Open(nil)
	second.Open(nil)
	first.Open(nil)

	if rt.count() != 3 {
		t.Fatalf("expected a fresh listener for the reopen, created %d", rt.count())
	}
	if first.State() != listener.StateOpened {
		t.Fatalf("reopen state = %s", first.State())
	}
}

func TestCloseReportsClosingWhileDraining(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	rt := &fakeRuntime{}
	s := newHost(t, rt, m, impl)
	var during listener.State
	rt.closeHook = func() { during = s.State() }

	s.Open(nil)
	s.Close()

	if during != listener.StateClosing {
		t.Fatalf("state during close = %s, want closing", during)
	}
	if s.State() != listener.StateClosed {
		t.Fatalf("state after close = %s", s.State())
	}
}

func TestPortSharingStartedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		enabled bool
		err     error
	}{
		{"enabled", true, nil},
		{"disabled", false, nil},
		{"failure is not fatal", true, errors.New("unsupported")},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
			m.PortSharingEnabled = tc.enabled
			started := 0
			s, err := New(impl, Options{
				Runtime:  &fakeRuntime{},
				Settings: m,
				PortSharing: portshare.StarterFunc(func() error {
					started++
					return tc.err
				}),
			})
			if err != nil {
				t.Fatalf("new host: %v", err)
			}
			defer s.Dispose()

			s.Open(nil)
			want := 0
			if tc.enabled {
				want = 1
			}
			if started != want {
				t.Fatalf("port sharing started %d times, want %d", started, want)
			}
			if s.State() != listener.StateOpened {
				t.Fatalf("state = %s", s.State())
			}
		})
	}
}

func TestUnsubscribeAndDispose(t *testing.T) {
	t.Parallel()

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	s := newHost(t, &fakeRuntime{}, m, impl)

	opened := 0
	unsubscribe := s.OnServerOpened(func(OpenedEvent) { opened++ })
	closed := 0
	s.OnServerClosed(func(ClosedEvent) { closed++ })

	unsubscribe()
	unsubscribe()
	s.Open(nil)
	if opened != 0 {
		t.Fatalf("unsubscribed handler was called")
	}

	s.Dispose()
	if closed != 1 {
		t.Fatalf("dispose did not close the listener")
	}
	if s.State() != listener.StateClosed {
		t.Fatalf("state after dispose = %s", s.State())
	}
	if s.closed.len() != 0 {
		t.Fatalf("dispose kept subscribers")
	}
	s.Dispose()
}

func TestNewRequiresRuntimeAndImplementation(t *testing.T) {
	t.Parallel()

	if _, err := New(contract.New("x", echoHandler{}), Options{}); err == nil {
		t.Fatalf("expected missing runtime error")
	}
	if _, err := New(contract.Implementation{}, Options{Runtime: &fakeRuntime{}}); err == nil {
		t.Fatalf("expected missing implementation error")
	}

	m, impl := newModel(t, "net.tcp://localhost:9000/Echo")
	s, err := New(contract.Implementation{}, Options{Runtime: &fakeRuntime{}, Settings: m})
	if err != nil {
		t.Fatalf("implementation from model: %v", err)
	}
	if s.Name() != impl.Name {
		t.Fatalf("name = %q", s.Name())
	}
}
