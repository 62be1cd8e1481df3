//go:build linux

package sockopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Supported reports whether UserTimeout takes effect on this platform.
const Supported = true

func apply(fd uintptr, options Options) error {
	if options.UserTimeout > 0 {
		millis := int(options.UserTimeout.Milliseconds())
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, millis); err != nil {
			return fmt.Errorf("set TCP_USER_TIMEOUT: %w", err)
		}
	}
	if options.QuickAck {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1); err != nil {
			return fmt.Errorf("set TCP_QUICKACK: %w", err)
		}
	}
	return nil
}

// UserTimeout reads TCP_USER_TIMEOUT back from fd.
func UserTimeout(fd uintptr) (int, error) {
	return unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT)
}
