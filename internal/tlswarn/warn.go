// Package tlswarn provides a process-wide one-shot warning for plaintext
// endpoints reachable off the local machine.
package tlswarn

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

var once sync.Once

// Plaintext warns once per process when any of addresses (host:port) is
// served without TLS on a non-loopback interface.
func Plaintext(logger *zap.Logger, addresses []string) {
	exposed := exposedAddresses(addresses)
	if len(exposed) == 0 {
		return
	}
	once.Do(func() {
		logger.Warn("serving without TLS on non-loopback addresses; do NOT use in production",
			zap.Strings("addresses", exposed))
	})
}

func exposedAddresses(addresses []string) []string {
	var out []string
	for _, addr := range addresses {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		if host == "localhost" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			continue
		}
		out = append(out, addr)
	}
	return out
}
