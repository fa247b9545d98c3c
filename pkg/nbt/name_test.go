package nbt

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeName(t *testing.T) {
	enc, err := EncodeName("A")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 'A', 0x00}, enc)

	enc, err = EncodeName("")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, enc)

	enc, err = EncodeName("host.corp.example")
	require.NoError(t, err)
	assert.Equal(t, append([]byte{4}, "host\x04corp\x07example\x00"...), enc)
}

func TestSessionRequestRoundTrip(t *testing.T) {
	called, err := EncodeName("A")
	require.NoError(t, err)
	calling, err := EncodeName("")
	require.NoError(t, err)

	gotCalled, gotCalling, err := ParseSessionRequest(BuildSessionRequest(called, calling))
	require.NoError(t, err)
	assert.Equal(t, "A", gotCalled)
	assert.Equal(t, "", gotCalling)
}

func TestEncodeNameRejectsOverflow(t *testing.T) {
	label := strings.Repeat("x", MaxLabelLen)
	// four 64-byte blocks plus the terminator exceed the name buffer
	name := strings.Join([]string{label, label, label, label}, ".")
	_, err := EncodeName(name)
	assert.ErrorIs(t, err, ErrNameTooLong)

	// three blocks plus a short one still fit
	enc, err := EncodeName(strings.Join([]string{label, label, label, "abcd"}, "."))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(enc), MaxEncodedNameLen)

	_, err = EncodeName(strings.Repeat("y", MaxLabelLen+1))
	assert.ErrorIs(t, err, ErrLabelTooLong)

	_, err = EncodeName("a..b")
	assert.ErrorIs(t, err, ErrMalformedName)
}

func TestDecodeNameMalformed(t *testing.T) {
	_, _, err := DecodeName([]byte{0x03, 'a', 'b'})
	assert.ErrorIs(t, err, ErrMalformedName)

	_, _, err = DecodeName([]byte{0x01, 'a'})
	assert.ErrorIs(t, err, ErrMalformedName)

	_, _, err = ParseSessionRequest([]byte{0x00, 0x00, 0x07})
	assert.ErrorIs(t, err, ErrMalformedName)
}

func TestFirstLevelEncoding(t *testing.T) {
	// RFC 1001 example: "FRED" padded with spaces, suffix 0x20
	enc := FirstLevelEncode("fred", SuffixServer)
	assert.Equal(t, "EGFCEFEECACACACACACACACACACACACA", enc)

	name, suffix, err := DecodeFirstLevel(enc)
	require.NoError(t, err)
	assert.Equal(t, "FRED", name)
	assert.Equal(t, SuffixServer, suffix)

	_, _, err = DecodeFirstLevel("short")
	assert.ErrorIs(t, err, ErrMalformedName)
	_, _, err = DecodeFirstLevel(strings.Repeat("Z", EncodedNetBIOSNameLen))
	assert.ErrorIs(t, err, ErrMalformedName)
}

func TestFirstLevelWildcard(t *testing.T) {
	// '*' then fifteen NULs; the space padded form is a different name.
	enc := FirstLevelWildcard()
	assert.Equal(t, "CK"+strings.Repeat("AA", NetBIOSNameLen-1), enc)
	assert.NotEqual(t, FirstLevelEncode("*", 0), enc)
}

func TestNewAddr(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: PortNetBIOS}
	a, err := NewAddr(tcp, "server", "corp", SuffixServer)
	require.NoError(t, err)
	assert.True(t, a.IsNetBIOS())

	full, n, err := DecodeName(a.Encoded)
	require.NoError(t, err)
	assert.Equal(t, len(a.Encoded), n)
	assert.Equal(t, FirstLevelEncode("server", SuffixServer)+".corp", full)

	c := a.Clone()
	c.Encoded[1] = 'Z'
	c.TCP.Port = 1
	assert.NotEqual(t, c.Encoded[1], a.Encoded[1])
	assert.Equal(t, PortNetBIOS, a.TCP.Port)

	r := a.Retarget(net.IPv4(192, 168, 1, 9), 1139)
	assert.Equal(t, 1139, r.TCP.Port)
	assert.Equal(t, a.Encoded, r.Encoded)

	d := DirectAddr(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: PortDirect})
	assert.False(t, d.IsNetBIOS())
	assert.Equal(t, "10.0.0.1:445", d.String())
}

func TestRetargetPayload(t *testing.T) {
	body, err := BuildRetarget(net.IPv4(192, 168, 1, 20), 1445)
	require.NoError(t, err)
	assert.Equal(t, []byte{192, 168, 1, 20, 0x05, 0xA5}, body)

	ip, port, err := ParseRetarget(body)
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.IPv4(192, 168, 1, 20)))
	assert.Equal(t, 1445, port)

	_, _, err = ParseRetarget(body[:5])
	assert.ErrorIs(t, err, ErrBadRetarget)

	_, err = BuildRetarget(net.ParseIP("::1"), 445)
	assert.ErrorIs(t, err, ErrBadRetarget)
}

func TestNegativeResponse(t *testing.T) {
	err := ParseNegativeResponse([]byte{CalledNameNotPresent})
	assert.Equal(t, CalledNameNotPresent, err.Code)
	assert.Contains(t, err.Error(), "called name not present")

	assert.Equal(t, UnspecifiedError, ParseNegativeResponse(nil).Code)
}
