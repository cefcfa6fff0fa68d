//go:build !(linux || darwin || freebsd)

package sockopt

import "net"

// TuneBuffers is a no-op on platforms without a SetsockoptInt syscall path;
// tuning is best-effort only.
func TuneBuffers(conn *net.UDPConn, minBytes int) error { return nil }

// Supported reports whether TuneBuffers can do anything useful on this
// platform.
func Supported() bool { return false }
