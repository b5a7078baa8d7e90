package grpcrt

import (
	"crypto/tls"
	"errors"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/nupi-ai/svchost/internal/binding"
)

var (
	// ErrUnsupportedSecurity is returned for message-level security modes.
	ErrUnsupportedSecurity = errors.New("security mode not supported by the grpc runtime")
	// ErrTLSRequired is returned when transport security has no TLS config.
	ErrTLSRequired = errors.New("transport security requires a tls configuration")
)

const defaultStopTimeout = 5 * time.Second

// serverOptions translates binding parameters into gRPC server options.
func serverOptions(p binding.Parameters, tlsConfig *tls.Config) ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	switch p.Security {
	case binding.SecurityNone:
	case binding.SecurityTransport:
		if tlsConfig == nil {
			return nil, &binding.ConfigurationError{Op: "open", Kind: p.Kind, Name: p.Name, Err: ErrTLSRequired}
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	default:
		return nil, &binding.ConfigurationError{Op: "open", Kind: p.Kind, Name: p.Name, Err: ErrUnsupportedSecurity}
	}

	if p.MaxReceivedMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(clampInt(p.MaxReceivedMessageSize)))
	}
	if p.MaxBufferSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(clampInt(p.MaxBufferSize)))
	}
	if p.OpenTimeout > 0 {
		opts = append(opts, grpc.ConnectionTimeout(p.OpenTimeout))
	}
	if p.ReceiveTimeout > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: p.ReceiveTimeout}))
	}
	return opts, nil
}

func clampInt(v int64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func stopTimeout(p binding.Parameters) time.Duration {
	if p.CloseTimeout > 0 {
		return p.CloseTimeout
	}
	return defaultStopTimeout
}

// stopServer drains srv, falling back to a hard stop after timeout.
func stopServer(srv *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		srv.Stop()
	}
}
