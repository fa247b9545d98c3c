package nbt

import (
	"fmt"
	"strings"
)

// Name encoding limits.
const (
	// MaxEncodedNameLen is the size of the name buffer an encoded name,
	// including its terminator, must fit in.
	MaxEncodedNameLen = 255
	MaxLabelLen       = 63

	// NetBIOSNameLen is the length of a NetBIOS name including its suffix.
	NetBIOSNameLen = 16
	// EncodedNetBIOSNameLen is the length of a first-level encoded name.
	EncodedNetBIOSNameLen = 2 * NetBIOSNameLen
)

// Common NetBIOS name suffixes.
const (
	SuffixWorkstation byte = 0x00
	SuffixServer      byte = 0x20
)

// EncodeName encodes a dotted name as a sequence of (length, bytes) labels
// ending in a zero-length label. The empty name encodes to the terminator
// alone. A name whose encoding would not fit MaxEncodedNameLen is rejected.
func EncodeName(name string) ([]byte, error) {
	out := make([]byte, 0, len(name)+2)
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if label == "" {
				return nil, fmt.Errorf("%w: empty label in %q", ErrMalformedName, name)
			}
			if len(label) > MaxLabelLen {
				return nil, fmt.Errorf("%w: %d bytes", ErrLabelTooLong, len(label))
			}
			if len(out)+1+len(label)+1 > MaxEncodedNameLen {
				return nil, fmt.Errorf("%w: %q", ErrNameTooLong, name)
			}
			out = append(out, byte(len(label)))
			out = append(out, label...)
		}
	}
	return append(out, 0), nil
}

// DecodeName parses one encoded name from the front of b. It returns the
// dotted name and the number of bytes consumed.
func DecodeName(b []byte) (string, int, error) {
	var labels []string
	off := 0
	for {
		if off >= len(b) {
			return "", 0, fmt.Errorf("%w: missing terminator", ErrMalformedName)
		}
		n := int(b[off])
		off++
		if n == 0 {
			break
		}
		if n > MaxLabelLen {
			return "", 0, fmt.Errorf("%w: label length %d", ErrMalformedName, n)
		}
		if off+n > len(b) {
			return "", 0, fmt.Errorf("%w: truncated label", ErrMalformedName)
		}
		labels = append(labels, string(b[off:off+n]))
		off += n
	}
	if off > MaxEncodedNameLen {
		return "", 0, fmt.Errorf("%w: %d bytes", ErrNameTooLong, off)
	}
	return strings.Join(labels, "."), off, nil
}

// BuildSessionRequest returns a session request body: the encoded called
// (peer) name followed by the encoded calling (local) name.
func BuildSessionRequest(called, calling []byte) []byte {
	body := make([]byte, 0, len(called)+len(calling))
	body = append(body, called...)
	return append(body, calling...)
}

// ParseSessionRequest splits a session request body into the called and
// calling names.
func ParseSessionRequest(body []byte) (called, calling string, err error) {
	called, n, err := DecodeName(body)
	if err != nil {
		return "", "", fmt.Errorf("called name: %w", err)
	}
	calling, m, err := DecodeName(body[n:])
	if err != nil {
		return "", "", fmt.Errorf("calling name: %w", err)
	}
	if n+m != len(body) {
		return "", "", fmt.Errorf("%w: %d trailing bytes", ErrMalformedName, len(body)-n-m)
	}
	return called, calling, nil
}

// FirstLevelEncode applies RFC 1001 first-level encoding: the name is upper
// cased, space padded to 15 bytes, given the suffix byte, and each nibble is
// mapped onto 'A'..'P'. Names longer than 15 bytes are truncated.
func FirstLevelEncode(name string, suffix byte) string {
	var raw [NetBIOSNameLen]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:NetBIOSNameLen-1], strings.ToUpper(name))
	raw[NetBIOSNameLen-1] = suffix
	return encodeRaw(raw)
}

// FirstLevelWildcard is the encoded RFC 1001 wildcard name: an asterisk
// followed by fifteen NULs.
func FirstLevelWildcard() string {
	var raw [NetBIOSNameLen]byte
	raw[0] = '*'
	return encodeRaw(raw)
}

func encodeRaw(raw [NetBIOSNameLen]byte) string {
	out := make([]byte, EncodedNetBIOSNameLen)
	for i, c := range raw {
		out[2*i] = 'A' + c>>4
		out[2*i+1] = 'A' + c&0x0F
	}
	return string(out)
}

// DecodeFirstLevel reverses FirstLevelEncode. Trailing padding is trimmed.
func DecodeFirstLevel(label string) (string, byte, error) {
	if len(label) != EncodedNetBIOSNameLen {
		return "", 0, fmt.Errorf("%w: first-level label is %d bytes", ErrMalformedName, len(label))
	}
	raw := make([]byte, NetBIOSNameLen)
	for i := range raw {
		hi, lo := label[2*i]-'A', label[2*i+1]-'A'
		if hi > 0x0F || lo > 0x0F {
			return "", 0, fmt.Errorf("%w: invalid first-level byte", ErrMalformedName)
		}
		raw[i] = hi<<4 | lo
	}
	return strings.TrimRight(string(raw[:NetBIOSNameLen-1]), " "), raw[NetBIOSNameLen-1], nil
}
