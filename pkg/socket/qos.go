package socket

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// SetQoS marks traffic on an open connection with the given IPv4 TOS or
// IPv6 traffic class, depending on the connection's address family.
func SetQoS(conn net.Conn, qos int) error {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok && addr.IP.To4() == nil {
		return ipv6.NewConn(conn).SetTrafficClass(qos)
	}
	return ipv4.NewConn(conn).SetTOS(qos)
}

// QoS returns the current marking of an open connection.
func QoS(conn net.Conn) (int, error) {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok && addr.IP.To4() == nil {
		return ipv6.NewConn(conn).TrafficClass()
	}
	return ipv4.NewConn(conn).TOS()
}
