// Package client dials the client endpoints of a settings model.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/settings"
)

// passthroughPrefix bypasses gRPC DNS resolution.
const passthroughPrefix = "passthrough:///"

// Options tune a Dial call.
type Options struct {
	// TLSConfig overrides the default TLS client config for secure endpoints.
	TLSConfig *tls.Config
	// Token is sent as a bearer authorization header on every call.
	Token string
	// DialOptions are appended after the options derived from the binding.
	DialOptions []grpc.DialOption
}

// Dial connects to ep using params and waits until the connection is ready
// or the binding's open timeout elapses.
func Dial(ctx context.Context, ep settings.ClientEndpoint, params binding.Parameters, opts Options) (*grpc.ClientConn, error) {
	u, err := ep.URL()
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", ep.Name, err)
	}
	if !params.Kind.AcceptsScheme(u.Scheme) {
		return nil, fmt.Errorf("client: address %s does not match %s binding", ep.Address, params.Kind)
	}

	port := u.Port()
	if port == "" {
		port = defaultPortForScheme(u.Scheme)
	}
	address := net.JoinHostPort(u.Hostname(), port)

	dialOpts, err := dialOptions(u.Scheme, u.Hostname(), params, opts)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(passthroughPrefix+address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", address, err)
	}

	if params.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.OpenTimeout)
		defer cancel()
	}
	if err := waitReady(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: connect %s: %w", address, err)
	}
	return conn, nil
}

func dialOptions(scheme, host string, params binding.Parameters, opts Options) ([]grpc.DialOption, error) {
	var dialOpts []grpc.DialOption

	secure := strings.EqualFold(scheme, "https")
	switch params.Security {
	case binding.SecurityNone:
	case binding.SecurityTransport:
		secure = true
	default:
		return nil, &binding.ConfigurationError{Op: "dial", Kind: params.Kind, Name: params.Name, Err: fmt.Errorf("security mode %s not supported", params.Security)}
	}

	if secure {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	var callOpts []grpc.CallOption
	if params.MaxReceivedMessageSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(clampInt(params.MaxReceivedMessageSize)))
	}
	if params.MaxBufferSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(clampInt(params.MaxBufferSize)))
	}
	if len(callOpts) > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(callOpts...))
	}

	if token := strings.TrimSpace(opts.Token); token != "" {
		dialOpts = append(dialOpts,
			grpc.WithChainUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
				return invoker(withToken(ctx, token), method, req, reply, cc, callOpts...)
			}),
			grpc.WithChainStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
				return streamer(withToken(ctx, token), desc, cc, method, callOpts...)
			}),
		)
	}

	return append(dialOpts, opts.DialOptions...), nil
}

// withToken appends the bearer token to outgoing gRPC metadata.
func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

func defaultPortForScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https":
		return "443"
	case "net.tcp", "tcp":
		return "808"
	default:
		return "80"
	}
}

func clampInt(v int64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
