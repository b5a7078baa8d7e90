// Package portshare lets several listeners in or across processes bind the
// same TCP port.
package portshare

import (
	"context"
	"net"
	"sync/atomic"
)

// Starter bootstraps port sharing infrastructure.
type Starter interface {
	Start() error
}

// StarterFunc adapts a function to Starter.
type StarterFunc func() error

// Start calls f.
func (f StarterFunc) Start() error {
	return f()
}

var enabled atomic.Bool

// ReusePort enables SO_REUSEPORT on sockets bound through ListenConfig.
type ReusePort struct{}

// Start turns port sharing on for the rest of the process lifetime.
func (ReusePort) Start() error {
	if !supported {
		return errUnsupported
	}
	enabled.Store(true)
	return nil
}

// Enabled reports whether port sharing has been started.
func Enabled() bool {
	return enabled.Load()
}

// ResetForTesting turns port sharing back off. Must not be called concurrently.
func ResetForTesting() {
	enabled.Store(false)
}

// ListenConfig returns the listen configuration runtimes should bind with.
func ListenConfig() *net.ListenConfig {
	if !enabled.Load() {
		return &net.ListenConfig{}
	}
	return &net.ListenConfig{Control: reusePortControl}
}

// Listen binds a TCP listener honouring the port sharing setting.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	return ListenConfig().Listen(ctx, "tcp", address)
}
