package transport

import (
	"errors"
	"syscall"
)

// fatalErrnos mean the connection is gone whatever the socket reports.
var fatalErrnos = []syscall.Errno{
	syscall.EHOSTDOWN,
	syscall.ENETUNREACH,
	syscall.ENOTCONN,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.EADDRNOTAVAIL,
}

// Fatal reports whether err leaves the transport unusable. The listed codes
// are fatal outright. Anything else is fatal once the socket is closed, the
// session has been broken by a receive error, or the peer is gone.
func (t *NBT) Fatal(err error) bool {
	if err == nil {
		return false
	}
	code := Errno(err)
	for _, e := range fatalErrnos {
		if code == e || errors.Is(err, e) {
			return true
		}
	}

	cb := t.cb.Load()
	if cb == nil {
		return true
	}
	cb.sockMu.Lock()
	defer cb.sockMu.Unlock()

	cb.mu.Lock()
	conn := cb.conn
	opened := cb.flags&FlagSocketOpened != 0
	connected := cb.flags&FlagConnected != 0
	cb.mu.Unlock()
	if conn == nil || !opened || !connected {
		return true
	}
	return !t.peerConnected(conn)
}
