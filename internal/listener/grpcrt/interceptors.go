package grpcrt

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/listener"
)

// throttle enforces the throttling behavior. A nil semaphore is unlimited.
type throttle struct {
	calls     *semaphore.Weighted
	sessions  *semaphore.Weighted
	instances *semaphore.Weighted
}

func newThrottle(t *listener.Throttling) *throttle {
	if t == nil {
		return &throttle{}
	}
	return &throttle{
		calls:     ceiling(t.MaxConcurrentCalls),
		sessions:  ceiling(t.MaxConcurrentSessions),
		instances: ceiling(t.MaxConcurrentInstances),
	}
}

func ceiling(n int64) *semaphore.Weighted {
	if n <= 0 || n >= binding.Unlimited {
		return nil
	}
	return semaphore.NewWeighted(n)
}

// acquire takes one slot from each semaphore and returns the release func.
func acquire(ctx context.Context, sems ...*semaphore.Weighted) (func(), error) {
	var held []*semaphore.Weighted
	release := func() {
		for _, s := range held {
			s.Release(1)
		}
	}
	for _, s := range sems {
		if s == nil {
			continue
		}
		if err := s.Acquire(ctx, 1); err != nil {
			release()
			return nil, status.FromContextError(err).Err()
		}
		held = append(held, s)
	}
	return release, nil
}

// callPolicy is the interceptor state shared by every call on one server.
type callPolicy struct {
	logger        *zap.Logger
	throttle      *throttle
	sendTimeout   time.Duration
	exposeDetails bool
	// filters are keyed by fully qualified gRPC service name.
	filters map[string][]listener.AuthFilter
}

func (p *callPolicy) unary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := p.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	release, err := acquire(ctx, p.throttle.calls, p.throttle.instances)
	if err != nil {
		return nil, err
	}
	defer release()

	if p.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sendTimeout)
		defer cancel()
	}
	resp, err := handler(ctx, req)
	return resp, p.fault(info.FullMethod, err)
}

func (p *callPolicy) stream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx := ss.Context()
	if err := p.authorize(ctx, info.FullMethod); err != nil {
		return err
	}
	release, err := acquire(ctx, p.throttle.sessions, p.throttle.instances)
	if err != nil {
		return err
	}
	defer release()
	return p.fault(info.FullMethod, handler(srv, ss))
}

func (p *callPolicy) authorize(ctx context.Context, fullMethod string) error {
	filters := p.filters[serviceName(fullMethod)]
	if len(filters) == 0 {
		return nil
	}
	headers := headersFromMetadata(ctx)
	for _, f := range filters {
		if code := f.Validate(headers); listener.Rejects(code) {
			p.logger.Debug("call rejected", zap.String("method", fullMethod), zap.Int("status", code))
			return status.Errorf(codes.PermissionDenied, "call rejected by validator (status %d)", code)
		}
	}
	return nil
}

// fault converts handler errors into gRPC status errors, hiding the text of
// non-status errors unless fault details are exposed.
func (p *callPolicy) fault(method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if p.exposeDetails {
		return status.Error(codes.Unknown, err.Error())
	}
	p.logger.Warn("handler failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func headersFromMetadata(ctx context.Context) listener.Headers {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return listener.Headers{}
	}
	headers := make(listener.Headers, len(md))
	for key, values := range md {
		headers[key] = strings.Join(values, ",")
	}
	return headers
}

// serviceName extracts "pkg.Service" from "/pkg.Service/Method".
func serviceName(fullMethod string) string {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}
