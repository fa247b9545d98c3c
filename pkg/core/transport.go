package core

// Transport is the contract the SMB command layer consumes. It frames
// messages on a single TCP connection and, in NetBIOS mode, performs the
// session request exchange.
//
// Connect, Disconnect, Send and the parameter calls are issued by the session
// owner; Recv is issued by one dedicated reader and may run concurrently with
// any of them.
type Transport interface {
	// Send frames and writes one message. Ownership of msg passes to the
	// transport, which releases it on every path.
	Send(msg *MessageBuffer) error

	// Recv returns the next complete message.
	Recv() (*MessageBuffer, error)

	// Disconnect tears the connection down. It is idempotent.
	Disconnect() error

	// GetParam returns a transport parameter.
	GetParam(key Param) (any, error)

	// SetParam changes a transport parameter.
	SetParam(key Param, value any) error

	// Fatal reports whether err means the connection is unusable.
	Fatal(err error) bool

	// Done releases the transport. It must follow Disconnect.
	Done() error
}

// Param identifies a transport parameter.
type Param int

// Transport parameters.
const (
	ParamSendBufferSize Param = iota
	ParamRecvBufferSize
	ParamTimeout
	ParamUpcall
	ParamQoS
	ParamBoundInterface
)

func (p Param) String() string {
	switch p {
	case ParamSendBufferSize:
		return "send_buffer_size"
	case ParamRecvBufferSize:
		return "recv_buffer_size"
	case ParamTimeout:
		return "timeout"
	case ParamUpcall:
		return "upcall"
	case ParamQoS:
		return "qos"
	case ParamBoundInterface:
		return "bound_interface"
	default:
		return "unknown"
	}
}

// Event is a transport state transition reported through an Upcall.
type Event int

// Transport events.
const (
	EventConnected Event = iota
	EventRetargeted
	EventDisconnected
	EventPeerClosed
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventRetargeted:
		return "retargeted"
	case EventDisconnected:
		return "disconnected"
	case EventPeerClosed:
		return "peer_closed"
	default:
		return "unknown"
	}
}

// Upcall is the capability the session owner installs to learn about
// transport state changes. Implementations must not block.
type Upcall interface {
	TransportEvent(ev Event)
}

// UpcallFunc adapts a function to Upcall.
type UpcallFunc func(ev Event)

// TransportEvent implements Upcall.
func (f UpcallFunc) TransportEvent(ev Event) { f(ev) }

// TransformSentinel is the first byte of an SMB3 transform header.
const TransformSentinel = 0xFD

// Decryptor turns an encrypted SMB3 message into its plaintext.
type Decryptor interface {
	Decrypt(msg *MessageBuffer) (*MessageBuffer, error)
}

// TransportMetrics contains counters for a transport.
type TransportMetrics struct {
	// ConnectsAttempted is the number of connect calls that reached the dialer.
	ConnectsAttempted uint64

	// ConnectsSucceeded is the number of connects that became usable.
	ConnectsSucceeded uint64

	// Retargets is the number of retarget responses followed.
	Retargets uint64

	// MessagesSent is the number of messages sent.
	MessagesSent uint64

	// MessagesReceived is the number of messages returned to the caller.
	MessagesReceived uint64

	// BytesSent is the number of payload bytes sent.
	BytesSent uint64

	// BytesReceived is the number of payload bytes received.
	BytesReceived uint64

	// Keepalives is the number of keepalive frames skipped.
	Keepalives uint64

	// StallTimeouts is the number of body reads abandoned for lack of progress.
	StallTimeouts uint64

	// Errors is the number of errors encountered.
	Errors uint64
}
