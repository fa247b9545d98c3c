//go:build !unix

package socket

import "net"

// PeerConnected reports whether conn still has a peer. Without getpeername
// only a closed descriptor is detected.
func PeerConnected(conn *net.TCPConn) bool {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false
	}
	return raw.Control(func(uintptr) {}) == nil
}
