//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package portshare

import (
	"errors"
	"syscall"
)

const supported = false

var errUnsupported = errors.New("portshare: SO_REUSEPORT is not supported on this platform")

func reusePortControl(network, address string, c syscall.RawConn) error {
	return errUnsupported
}
