// Package sockopt applies socket options that net.Dialer does not expose.
package sockopt

import (
	"syscall"
	"time"
)

// Options are applied to the raw socket before connect.
type Options struct {
	// UserTimeout bounds how long transmitted data may stay unacknowledged
	// before the kernel drops the connection. Zero leaves the system default.
	UserTimeout time.Duration
	// QuickAck disables delayed acknowledgements where supported.
	QuickAck bool
}

// Empty reports whether no option needs a raw socket.
func (options Options) Empty() bool {
	return options.UserTimeout <= 0 && !options.QuickAck
}

// Control returns a net.Dialer Control hook applying options, or nil when
// there is nothing to apply.
func Control(options Options) func(network, address string, conn syscall.RawConn) error {
	if options.Empty() {
		return nil
	}
	return func(network, address string, conn syscall.RawConn) error {
		var applyErr error
		err := conn.Control(func(fd uintptr) {
			applyErr = apply(fd, options)
		})
		if err != nil {
			return err
		}
		return applyErr
	}
}
