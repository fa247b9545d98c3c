package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/obs"
)

// State is the session establishment state of a transport.
type State int

const (
	StateClosed State = iota
	StateSessionRequestSent
	StateSession
	StateRetargeted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateSessionRequestSent:
		return "session_request_sent"
	case StateSession:
		return "session"
	case StateRetargeted:
		return "retargeted"
	default:
		return "unknown"
	}
}

// Flags describe the socket underneath a transport.
type Flags uint32

const (
	FlagNetBIOS Flags = 1 << iota
	FlagSocketOpened
	FlagConnected
	FlagLocalAddrBound
	FlagBoundToInterface
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		f    Flags
		name string
	}{
		{FlagNetBIOS, "netbios"},
		{FlagSocketOpened, "opened"},
		{FlagConnected, "connected"},
		{FlagLocalAddrBound, "bound"},
		{FlagBoundToInterface, "iface"},
	} {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// controlBlock is the per-connection state. Lock order is sockMu, then mu.
// Blocking socket calls never run under mu.
type controlBlock struct {
	// mu guards everything below except where noted.
	mu sync.Mutex
	// sockMu serializes teardown against liveness queries on conn.
	sockMu sync.Mutex
	// writeMu keeps frames from interleaving on the wire.
	writeMu sync.Mutex

	state State
	flags Flags
	conn  *net.TCPConn
	// gen changes whenever a socket is torn down, so a reader still holding
	// an old socket cannot touch the session that replaced it.
	gen uint64
	// active is set while the connection counts toward the active gauge.
	active bool

	local *nbt.Addr
	peer  *nbt.Addr
	// lastLocal is the local endpoint of the most recent connection.
	lastLocal net.Addr

	sendBufSize int
	recvBufSize int
	chunkSize   int
	cfgChunk    int
	timeout     time.Duration
	qos         int
	boundIf     int

	upcall     core.Upcall
	dialCancel context.CancelFunc
}

func newControlBlock(cfg core.TransportConfig) *controlBlock {
	return &controlBlock{
		sendBufSize: cfg.SendBufferSize,
		recvBufSize: cfg.RecvBufferSize,
		cfgChunk:    cfg.RecvChunkSize,
		chunkSize:   core.ClampChunkSize(cfg.RecvChunkSize, cfg.RecvBufferSize),
		timeout:     cfg.DefaultTimeout,
		qos:         cfg.QoS,
	}
}

func (cb *controlBlock) has(f Flags) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.flags&f == f
}

func (cb *controlBlock) setFlags(f Flags) {
	cb.mu.Lock()
	cb.flags |= f
	cb.mu.Unlock()
}

func (cb *controlBlock) clearFlags(f Flags) {
	cb.mu.Lock()
	cb.flags &^= f
	cb.mu.Unlock()
}

func (cb *controlBlock) getState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *controlBlock) setState(s State) {
	cb.mu.Lock()
	cb.state = s
	cb.mu.Unlock()
}

func (cb *controlBlock) recvChunkSize() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.chunkSize
}

func (cb *controlBlock) currentTimeout() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.timeout
}

// socket returns the current socket with its generation.
func (cb *controlBlock) socket() (*net.TCPConn, uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.conn, cb.gen
}

// markBroken leaves the socket open for Disconnect but stops any further use
// of the session on it. It does nothing once the socket of generation gen
// has been replaced, and reports whether it applied.
func (cb *controlBlock) markBroken(gen uint64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.gen != gen {
		return false
	}
	cb.flags &^= FlagConnected
	if cb.state != StateRetargeted {
		cb.state = StateClosed
	}
	cb.releaseActiveLocked()
	return true
}

// releaseActiveLocked drops the connection from the active gauge once.
func (cb *controlBlock) releaseActiveLocked() {
	if cb.active {
		cb.active = false
		obs.ActiveConnections.Dec()
	}
}

// healthy reports whether the socket of generation gen is open and the
// session on it usable.
func (cb *controlBlock) healthy(gen uint64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	f := FlagSocketOpened | FlagConnected
	return cb.gen == gen && cb.flags&f == f
}

// logFields describes the connection for structured log lines.
func (cb *controlBlock) logFields() logrus.Fields {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	f := logrus.Fields{"state": cb.state.String()}
	if cb.peer != nil {
		f["peer"] = cb.peer.String()
	}
	return f
}

func (cb *controlBlock) notify(ev core.Event) {
	cb.mu.Lock()
	up := cb.upcall
	cb.mu.Unlock()
	if up != nil {
		up.TransportEvent(ev)
	}
}
