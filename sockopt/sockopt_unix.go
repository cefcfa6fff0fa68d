//go:build linux || darwin || freebsd

// Package sockopt tunes the kernel socket buffers backing a URP engine's
// UDP socket so a large configured window isn't silently throttled by a
// too-small OS default.
package sockopt

import (
	"fmt"
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// TuneBuffers sets SO_RCVBUF and SO_SNDBUF on conn's underlying file
// descriptor to at least minBytes. It is best-effort: failures are
// returned but are never fatal to the caller, which should log and
// continue with whatever buffer size the OS already assigned.
func TuneBuffers(conn *net.UDPConn, minBytes int) error {
	if minBytes <= 0 {
		return nil
	}
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return fmt.Errorf("sockopt: could not obtain raw fd from %v", conn.LocalAddr())
	}
	if cur, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF); err != nil || cur < minBytes {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, minBytes); err != nil {
			return fmt.Errorf("sockopt: SO_RCVBUF: %w", err)
		}
	}
	if cur, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF); err != nil || cur < minBytes {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, minBytes); err != nil {
			return fmt.Errorf("sockopt: SO_SNDBUF: %w", err)
		}
	}
	return nil
}

// Supported reports whether TuneBuffers can do anything useful on this
// platform.
func Supported() bool { return true }
