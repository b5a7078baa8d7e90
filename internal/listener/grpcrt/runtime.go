// Package grpcrt is the gRPC transport runtime behind listener.Listener. Each
// distinct endpoint host:port gets its own grpc.Server; behaviors on the
// description become server options and interceptors when the listener opens.
package grpcrt

import (
	"crypto/tls"
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/discovery"
	"github.com/nupi-ai/svchost/internal/listener"
)

// Runtime creates gRPC listeners.
type Runtime struct {
	logger        *zap.Logger
	tlsConfig     *tls.Config
	newAnnouncer  func() Announcer
	serverOptions []grpc.ServerOption
}

// New returns a runtime configured by opts.
func New(opts ...Option) *Runtime {
	r := &Runtime{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("grpcrt")
	if r.newAnnouncer == nil {
		logger := r.logger
		r.newAnnouncer = func() Announcer {
			return discovery.NewSSDPAnnouncer(discovery.WithLogger(logger))
		}
	}
	return r
}

// CreateListener returns a listener in the created state dispatching to impl.
func (r *Runtime) CreateListener(impl contract.Implementation) (listener.Listener, error) {
	if err := impl.Validate(); err != nil {
		return nil, err
	}
	for _, c := range impl.Contracts {
		if err := checkHandler(c, impl.Handler); err != nil {
			return nil, err
		}
	}
	return newListener(r, impl), nil
}

// checkHandler reports the mismatch grpc.Server.RegisterService would
// otherwise treat as fatal.
func checkHandler(c contract.Contract, handler any) error {
	if c.Desc == nil {
		return fmt.Errorf("grpcrt: contract %s has no service descriptor", c.Name)
	}
	if c.Desc.HandlerType == nil {
		return fmt.Errorf("grpcrt: contract %s has no handler type", c.Name)
	}
	want := reflect.TypeOf(c.Desc.HandlerType).Elem()
	if got := reflect.TypeOf(handler); !got.Implements(want) {
		return fmt.Errorf("grpcrt: handler %v does not implement %v", got, want)
	}
	return nil
}
