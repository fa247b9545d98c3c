package nbt

import (
	"errors"
	"fmt"
)

var (
	// ErrShortHeader indicates fewer than HeaderSize bytes were supplied.
	ErrShortHeader = errors.New("nbt: short header")

	// ErrMBZ indicates reserved length bits were set in NetBIOS mode.
	ErrMBZ = errors.New("nbt: MBZ flag set")

	// ErrUnknownType indicates an unrecognized packet type.
	ErrUnknownType = errors.New("nbt: unknown packet type")

	// ErrTypeNotAllowed indicates a session establishment type on direct TCP.
	ErrTypeNotAllowed = errors.New("nbt: packet type not allowed on direct TCP")

	// ErrNameTooLong indicates an encoded name would overflow the name buffer.
	ErrNameTooLong = errors.New("nbt: encoded name too long")

	// ErrLabelTooLong indicates a name label longer than MaxLabelLen.
	ErrLabelTooLong = errors.New("nbt: name label too long")

	// ErrMalformedName indicates an encoded name that cannot be parsed.
	ErrMalformedName = errors.New("nbt: malformed name")

	// ErrBadRetarget indicates a retarget response of the wrong size.
	ErrBadRetarget = errors.New("nbt: bad retarget response")
)

// Negative session response error codes (RFC 1002 section 4.3.4).
const (
	NotListeningOnCalledName  byte = 0x80
	NotListeningForCallerName byte = 0x81
	CalledNameNotPresent      byte = 0x82
	InsufficientResources     byte = 0x83
	UnspecifiedError          byte = 0x8F
)

// NegativeResponseError is the error a server returns in a negative session
// response.
type NegativeResponseError struct {
	Code byte
}

func (e *NegativeResponseError) Error() string {
	var reason string
	switch e.Code {
	case NotListeningOnCalledName:
		reason = "not listening on called name"
	case NotListeningForCallerName:
		reason = "not listening for calling name"
	case CalledNameNotPresent:
		reason = "called name not present"
	case InsufficientResources:
		reason = "insufficient resources"
	case UnspecifiedError:
		reason = "unspecified error"
	default:
		reason = "unknown error"
	}
	return fmt.Sprintf("nbt: negative session response 0x%02x: %s", e.Code, reason)
}

// ParseNegativeResponse decodes a negative response body.
func ParseNegativeResponse(body []byte) *NegativeResponseError {
	if len(body) == 0 {
		return &NegativeResponseError{Code: UnspecifiedError}
	}
	return &NegativeResponseError{Code: body[0]}
}
