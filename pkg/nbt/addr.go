package nbt

import (
	"encoding/binary"
	"fmt"
	"net"
)

// RetargetSize is the size of a retarget response body.
const RetargetSize = 6

// Addr is a transport endpoint. A NetBIOS address carries the encoded scoped
// name used in the session request; a direct TCP address has none.
type Addr struct {
	TCP *net.TCPAddr

	// Name is the plain NetBIOS name, for diagnostics.
	Name string

	// Encoded is the encoded scoped name. Nil on direct TCP.
	Encoded []byte
}

// NewAddr builds a NetBIOS address. The name is first-level encoded with the
// suffix and the scope, if any, is appended as further labels.
func NewAddr(tcp *net.TCPAddr, name, scope string, suffix byte) (*Addr, error) {
	full := FirstLevelEncode(name, suffix)
	if scope != "" {
		full += "." + scope
	}
	enc, err := EncodeName(full)
	if err != nil {
		return nil, err
	}
	return &Addr{TCP: tcp, Name: name, Encoded: enc}, nil
}

// DirectAddr builds a direct TCP address.
func DirectAddr(tcp *net.TCPAddr) *Addr {
	return &Addr{TCP: tcp}
}

// IsNetBIOS reports whether the address uses the NetBIOS session service.
func (a *Addr) IsNetBIOS() bool {
	return a != nil && a.Encoded != nil
}

// Clone returns a deep copy of a.
func (a *Addr) Clone() *Addr {
	if a == nil {
		return nil
	}
	c := &Addr{Name: a.Name}
	if a.TCP != nil {
		tcp := *a.TCP
		tcp.IP = append(net.IP(nil), a.TCP.IP...)
		c.TCP = &tcp
	}
	if a.Encoded != nil {
		c.Encoded = append([]byte{}, a.Encoded...)
	}
	return c
}

// Retarget returns a copy of a pointing at a new IP and port.
func (a *Addr) Retarget(ip net.IP, port int) *Addr {
	c := a.Clone()
	c.TCP = &net.TCPAddr{IP: append(net.IP(nil), ip...), Port: port}
	return c
}

func (a *Addr) String() string {
	if a == nil || a.TCP == nil {
		return "<nil>"
	}
	if a.IsNetBIOS() {
		return fmt.Sprintf("%s(%s)", a.Name, a.TCP)
	}
	return a.TCP.String()
}

// ParseRetarget decodes a retarget response body: a 4-byte IPv4 address
// followed by a 2-byte port, both in network byte order.
func ParseRetarget(body []byte) (net.IP, int, error) {
	if len(body) != RetargetSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrBadRetarget, len(body))
	}
	ip := net.IPv4(body[0], body[1], body[2], body[3])
	port := int(binary.BigEndian.Uint16(body[4:6]))
	return ip, port, nil
}

// BuildRetarget encodes a retarget response body.
func BuildRetarget(ip net.IP, port int) ([]byte, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrBadRetarget, ip)
	}
	body := make([]byte, RetargetSize)
	copy(body, v4)
	binary.BigEndian.PutUint16(body[4:], uint16(port))
	return body, nil
}
