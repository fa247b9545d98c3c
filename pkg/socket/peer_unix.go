//go:build unix

package socket

import (
	"net"

	"golang.org/x/sys/unix"
)

// PeerConnected asks the kernel whether conn still has a peer. The caller
// must guarantee conn is not being closed concurrently.
func PeerConnected(conn *net.TCPConn) bool {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false
	}
	var perr error
	if err := raw.Control(func(fd uintptr) {
		_, perr = unix.Getpeername(int(fd))
	}); err != nil {
		return false
	}
	return perr == nil
}
