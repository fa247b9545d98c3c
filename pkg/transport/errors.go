package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Error is a transport failure carrying the POSIX code the session layer
// dispatches on.
type Error struct {
	msg   string
	errno syscall.Errno
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the errno so errors.Is(err, syscall.EPIPE) works.
func (e *Error) Unwrap() error { return e.errno }

// Errno returns the code carried by e.
func (e *Error) Errno() syscall.Errno { return e.errno }

var (
	ErrNotConnected     = &Error{"transport not connected", syscall.ENOTCONN}
	ErrAlreadyConnected = &Error{"transport already connected", syscall.EISCONN}
	ErrPeerClosed       = &Error{"connection closed by peer", syscall.EPIPE}
	ErrProtocol         = &Error{"session protocol violation", syscall.EPROTO}
	ErrStallTimeout     = &Error{"receive stalled", syscall.EIO}
	ErrTimedOut         = &Error{"timed out", syscall.ETIMEDOUT}
	ErrConnAborted      = &Error{"session establishment aborted", syscall.ECONNABORTED}
	ErrRetargetLimit    = &Error{"too many session retargets", syscall.ELOOP}
	ErrInvalidArgument  = &Error{"invalid argument", syscall.EINVAL}
	ErrAddressFamily    = &Error{"address family not supported", syscall.EAFNOSUPPORT}
	ErrMessageTooLarge  = &Error{"message too large for framing mode", syscall.EMSGSIZE}
	ErrInterrupted      = &Error{"interrupted", syscall.EINTR}
)

// Errno maps any error returned by the transport to a POSIX code. Wrapped
// transport errors win over the underlying socket errno.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var te *Error
	if errors.As(err, &te) {
		return te.errno
	}
	var en syscall.Errno
	if errors.As(err, &en) {
		return en
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return syscall.ETIMEDOUT
	case errors.Is(err, net.ErrClosed):
		return syscall.ENOTCONN
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return syscall.EPIPE
	}
	return syscall.EIO
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
