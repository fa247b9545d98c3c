// Package nbt implements the wire formats of the NetBIOS Session Service
// (RFC 1002 section 4.3) as used by SMB: the 4-byte session header, the
// session request body and the positive, negative and retarget responses.
//
// The same header carries SMB on direct TCP (port 445), where the length
// field widens to 24 bits and only message frames are expected.
package nbt

import (
	"encoding/binary"
	"fmt"
)

// Type is the session packet type carried in the top byte of the header.
type Type byte

// Session packet types.
const (
	TypeMessage          Type = 0x00
	TypeSessionRequest   Type = 0x81
	TypePositiveResponse Type = 0x82
	TypeNegativeResponse Type = 0x83
	TypeRetargetResponse Type = 0x84
	TypeKeepalive        Type = 0x85
)

func (t Type) String() string {
	switch t {
	case TypeMessage:
		return "message"
	case TypeSessionRequest:
		return "session-request"
	case TypePositiveResponse:
		return "positive-response"
	case TypeNegativeResponse:
		return "negative-response"
	case TypeRetargetResponse:
		return "retarget-response"
	case TypeKeepalive:
		return "keepalive"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// Well-known ports.
const (
	PortNetBIOS = 139
	PortDirect  = 445
)

// HeaderSize is the size of the session header.
const HeaderSize = 4

// Length masks. In NetBIOS mode bit 16 is the length extension (E) flag and
// bits 17-23 must be zero.
const (
	NetBIOSLengthMask uint32 = 0x0001FFFF
	DirectLengthMask  uint32 = 0x00FFFFFF
	mbzMask           uint32 = DirectLengthMask &^ NetBIOSLengthMask
)

// MaxLength returns the largest payload length the mode can frame.
func MaxLength(netbios bool) uint32 {
	if netbios {
		return NetBIOSLengthMask
	}
	return DirectLengthMask
}

// PutHeader writes a header for type t and length into b, which must hold
// HeaderSize bytes. The encoding does not depend on the mode.
func PutHeader(b []byte, t Type, length uint32) {
	binary.BigEndian.PutUint32(b, uint32(t)<<24|length&DirectLengthMask)
}

// EncodeHeader returns a new header for type t and length.
func EncodeHeader(t Type, length uint32) []byte {
	b := make([]byte, HeaderSize)
	PutHeader(b, t, length)
	return b
}

// DecodeHeader parses a session header. In NetBIOS mode the length is 17
// bits wide and the bits above it must be zero; session establishment types
// are only legal in NetBIOS mode.
func DecodeHeader(b []byte, netbios bool) (Type, uint32, error) {
	if len(b) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	word := binary.BigEndian.Uint32(b)
	t := Type(word >> 24)
	length := word & DirectLengthMask
	if netbios {
		if length&mbzMask != 0 {
			return t, 0, fmt.Errorf("%w: header 0x%08x", ErrMBZ, word)
		}
		length &= NetBIOSLengthMask
	}

	switch t {
	case TypeMessage, TypeKeepalive:
	case TypeSessionRequest, TypePositiveResponse, TypeNegativeResponse, TypeRetargetResponse:
		if !netbios {
			return t, 0, fmt.Errorf("%w: %s", ErrTypeNotAllowed, t)
		}
	default:
		return t, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(t))
	}
	return t, length, nil
}
