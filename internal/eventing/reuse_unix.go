//go:build unix

package eventing

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets several subscribers on one host share the group port.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
