//go:build linux

package socket

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// configureSocket runs on the raw socket before connect.
func configureSocket(fd uintptr, network string, opts DialOptions) error {
	s := int(fd)
	if err := unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return os.NewSyscallError("setsockopt TCP_NODELAY", err)
	}

	// Surface ICMP unreachable errors immediately so a lost link or address
	// fails the socket instead of stalling until the retransmit timeout.
	v6 := strings.HasSuffix(network, "6")
	if v6 {
		if err := unix.SetsockoptInt(s, unix.IPPROTO_IPV6, unix.IPV6_RECVERR, 1); err != nil {
			return os.NewSyscallError("setsockopt IPV6_RECVERR", err)
		}
	} else {
		if err := unix.SetsockoptInt(s, unix.IPPROTO_IP, unix.IP_RECVERR, 1); err != nil {
			return os.NewSyscallError("setsockopt IP_RECVERR", err)
		}
	}

	if opts.SendTimeout > 0 {
		ms := int(opts.SendTimeout.Milliseconds())
		if err := unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms); err != nil {
			return os.NewSyscallError("setsockopt TCP_USER_TIMEOUT", err)
		}
	}

	if opts.BoundInterface > 0 {
		if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_BINDTOIFINDEX, opts.BoundInterface); err != nil {
			return os.NewSyscallError("setsockopt SO_BINDTOIFINDEX", err)
		}
	}
	return nil
}
