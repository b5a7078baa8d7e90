package grpcrt

import (
	"crypto/tls"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/nupi-ai/svchost/internal/discovery"
)

// Announcer publishes hosted endpoints while a listener is open.
type Announcer interface {
	Announce(announcements []discovery.Announcement) error
	Withdraw() error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTLSConfig sets the server TLS configuration used by bindings with
// transport security.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(r *Runtime) {
		r.tlsConfig = cfg
	}
}

// WithAnnouncerFactory replaces the SSDP announcer created for listeners
// that carry a discovery behavior.
func WithAnnouncerFactory(fn func() Announcer) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.newAnnouncer = fn
		}
	}
}

// WithServerOptions appends raw gRPC server options to every server.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(r *Runtime) {
		r.serverOptions = append(r.serverOptions, opts...)
	}
}
