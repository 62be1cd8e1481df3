//go:build !linux

package sockopt

// Supported reports whether UserTimeout takes effect on this platform.
const Supported = false

func apply(fd uintptr, options Options) error { return nil }

// UserTimeout always reports zero here.
func UserTimeout(fd uintptr) (int, error) { return 0, nil }
