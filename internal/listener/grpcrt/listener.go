package grpcrt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/discovery"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/portshare"
)

// Listener serves an implementation over one gRPC server per endpoint
// host:port.
type Listener struct {
	*listener.Base
	rt     *Runtime
	logger *zap.Logger

	mu        sync.Mutex
	servers   []*hostServer
	metadata  *metadataServer
	announcer Announcer
	wg        sync.WaitGroup
}

type hostServer struct {
	group    endpointGroup
	grpc     *grpc.Server
	listener net.Listener
	health   *health.Server
}

func (s *hostServer) stopTimeout() time.Duration {
	return stopTimeout(s.group.endpoints[0].Binding)
}

// endpointGroup is the endpoints sharing one host:port.
type endpointGroup struct {
	hostPort  string
	endpoints []*listener.Endpoint
}

var _ listener.Listener = (*Listener)(nil)

func newListener(rt *Runtime, impl contract.Implementation) *Listener {
	return &Listener{
		Base:   listener.NewBase(impl),
		rt:     rt,
		logger: rt.logger.With(zap.String("service", impl.Name)),
	}
}

// Open binds every endpoint, applies behaviors and starts serving. On
// failure everything started so far is stopped and the listener faults.
func (l *Listener) Open() error {
	if err := l.BeginOpen(); err != nil {
		return err
	}
	if err := l.start(context.Background()); err != nil {
		l.shutdown(false)
		l.Fault(err)
		return err
	}
	l.logger.Info("listener opened", zap.Strings("addresses", l.Addresses()))
	return l.FinishOpen()
}

// Close drains in-flight calls and stops every server. It is a no-op unless
// the listener is open.
func (l *Listener) Close() error {
	if !l.BeginClose() {
		return nil
	}
	err := l.shutdown(true)
	l.FinishClose()
	l.logger.Info("listener closed")
	return err
}

// Abort stops every server immediately without signalling.
func (l *Listener) Abort() {
	l.shutdown(false)
	l.MarkClosed()
}

// Addresses returns the bound gRPC addresses in endpoint order.
func (l *Listener) Addresses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.servers))
	for _, s := range l.servers {
		out = append(out, s.listener.Addr().String())
	}
	return out
}

// MetadataAddress returns the bound metadata address, or "" when metadata
// is not published.
func (l *Listener) MetadataAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.metadata == nil {
		return ""
	}
	return l.metadata.Addr().String()
}

func (l *Listener) start(ctx context.Context) error {
	desc := l.Description()
	impl := l.Implementation()

	var endpoints []*listener.Endpoint
	for _, ep := range desc.Endpoints.Items() {
		if ep.Kind == listener.EndpointService {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("grpcrt: %s has no service endpoints", impl.Name)
	}

	groups, err := groupEndpoints(endpoints)
	if err != nil {
		return err
	}

	throttling, _ := listener.FindBehavior[*listener.Throttling](&desc.Behaviors)
	limits := newThrottle(throttling)
	debug, _ := listener.FindBehavior[*listener.Debug](&desc.Behaviors)

	for _, group := range groups {
		srv, err := l.startServer(ctx, impl, group, limits, debug != nil && debug.IncludeExceptionDetailInFaults)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.servers = append(l.servers, srv)
		l.mu.Unlock()
	}

	if md, ok := listener.FindBehavior[*listener.Metadata](&desc.Behaviors); ok && md.HTTPGetEnabled && md.HTTPGetURL != nil {
		m, err := startMetadata(ctx, md.HTTPGetURL, buildDocument(impl, endpoints), func(err error) {
			l.logger.Error("metadata server stopped", zap.Error(err))
			l.Fault(fmt.Errorf("grpcrt: serve metadata: %w", err))
		})
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.metadata = m
		l.mu.Unlock()
	}

	if desc.Behaviors.Has(listener.BehaviorDiscovery) && desc.Endpoints.HasKind(listener.EndpointDiscoveryProbe) {
		l.announce(endpoints)
	}
	return nil
}

func (l *Listener) startServer(ctx context.Context, impl contract.Implementation, group endpointGroup, limits *throttle, exposeDetails bool) (*hostServer, error) {
	first := group.endpoints[0].Binding
	opts, err := serverOptions(first, l.rt.tlsConfig)
	if err != nil {
		return nil, err
	}

	policy := &callPolicy{
		logger:        l.logger,
		throttle:      limits,
		sendTimeout:   first.SendTimeout,
		exposeDetails: exposeDetails,
		filters:       make(map[string][]listener.AuthFilter),
	}

	registered := make(map[string]contract.Contract)
	var groupFilters []listener.AuthFilter
	for _, ep := range group.endpoints {
		c, ok := impl.Lookup(ep.Contract)
		if !ok {
			return nil, fmt.Errorf("grpcrt: %s does not implement contract %s", impl.Name, ep.Contract)
		}
		registered[c.Desc.ServiceName] = c
		policy.filters[c.Desc.ServiceName] = append(policy.filters[c.Desc.ServiceName], ep.AuthFilters()...)
		groupFilters = append(groupFilters, ep.AuthFilters()...)
	}

	_, healthHosted := registered[healthpb.Health_ServiceDesc.ServiceName]
	if !healthHosted {
		// The built-in health service shares the port, so it answers to
		// every validator installed on it.
		policy.filters[healthpb.Health_ServiceDesc.ServiceName] = groupFilters
	}

	opts = append(opts,
		grpc.ChainUnaryInterceptor(policy.unary),
		grpc.ChainStreamInterceptor(policy.stream),
	)
	opts = append(opts, l.rt.serverOptions...)

	lis, err := portshare.Listen(ctx, group.hostPort)
	if err != nil {
		return nil, fmt.Errorf("grpcrt: listen %s: %w", group.hostPort, err)
	}

	server := grpc.NewServer(opts...)
	for _, c := range registered {
		server.RegisterService(c.Desc, impl.Handler)
	}

	var healthServer *health.Server
	if !healthHosted {
		healthServer = health.NewServer()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		for name := range registered {
			healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
		}
		healthpb.RegisterHealthServer(server, healthServer)
	}

	srv := &hostServer{group: group, grpc: server, listener: lis, health: healthServer}

	l.wg.Add(1)
	go l.serve(srv)
	return srv, nil
}

func (l *Listener) serve(srv *hostServer) {
	defer l.wg.Done()
	if err := srv.grpc.Serve(srv.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, grpc.ErrServerStopped) {
		l.logger.Error("grpc server stopped", zap.String("address", srv.group.hostPort), zap.Error(err))
		l.Fault(fmt.Errorf("grpcrt: serve %s: %w", srv.group.hostPort, err))
	}
}

func (l *Listener) announce(endpoints []*listener.Endpoint) {
	announcer := l.rt.newAnnouncer()
	announcements := make([]discovery.Announcement, 0, len(endpoints))
	for _, ep := range endpoints {
		announcements = append(announcements, discovery.Announcement{Contract: ep.Contract, Location: ep.Address.String()})
	}
	if err := announcer.Announce(announcements); err != nil {
		l.logger.Warn("discovery announcement failed", zap.Error(err))
	}
	l.mu.Lock()
	l.announcer = announcer
	l.mu.Unlock()
}

// shutdown releases everything start acquired. Graceful shutdown drains
// calls for up to each binding's close timeout.
func (l *Listener) shutdown(graceful bool) error {
	l.mu.Lock()
	servers := l.servers
	metadata := l.metadata
	announcer := l.announcer
	l.servers = nil
	l.metadata = nil
	l.announcer = nil
	l.mu.Unlock()

	var errs error
	if announcer != nil {
		errs = multierr.Append(errs, announcer.Withdraw())
	}
	if metadata != nil {
		timeout := defaultStopTimeout
		if len(servers) > 0 {
			timeout = servers[0].stopTimeout()
		}
		errs = multierr.Append(errs, metadata.stop(timeout, graceful))
	}

	for _, srv := range servers {
		if srv.health != nil {
			srv.health.Shutdown()
		}
		if graceful {
			stopServer(srv.grpc, srv.stopTimeout())
		} else {
			srv.grpc.Stop()
		}
	}
	l.wg.Wait()
	return errs
}

// groupEndpoints partitions endpoints by host:port keeping first-seen order.
func groupEndpoints(endpoints []*listener.Endpoint) ([]endpointGroup, error) {
	var groups []endpointGroup
	index := make(map[string]int)
	for _, ep := range endpoints {
		hostPort, err := ep.HostPort()
		if err != nil {
			return nil, err
		}
		i, ok := index[hostPort]
		if !ok {
			i = len(groups)
			index[hostPort] = i
			groups = append(groups, endpointGroup{hostPort: hostPort})
		}
		groups[i].endpoints = append(groups[i].endpoints, ep)
	}
	return groups, nil
}
