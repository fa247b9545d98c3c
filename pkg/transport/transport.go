// Package transport implements the NetBIOS session service and direct TCP
// transport an SMB client runs its messages over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/obs"
	"github.com/irctrakz/nbtransport/pkg/socket"
)

// rttFactor scales the first connect round trip into the request timeout.
const rttFactor = 4

// NBT is a session transport over one TCP connection. The zero value is not
// usable; create one with New.
type NBT struct {
	cfg  core.TransportConfig
	cb   atomic.Pointer[controlBlock]
	recv receiver

	clock     core.WakeClock
	decryptor core.Decryptor
	interrupt func() bool
	shutdown  <-chan struct{}

	// peerConnected is swapped out in tests.
	peerConnected func(*net.TCPConn) bool

	metrics core.TransportMetrics
}

var _ core.Transport = (*NBT)(nil)

// Option configures an NBT.
type Option func(*NBT)

// WithClock replaces the wall clock used for stall accounting.
func WithClock(c core.WakeClock) Option {
	return func(t *NBT) { t.clock = c }
}

// WithDecryptor installs the hook that decrypts SMB3 transform messages.
func WithDecryptor(d core.Decryptor) Option {
	return func(t *NBT) { t.decryptor = d }
}

// WithInterrupt installs a predicate polled during a pending connect.
func WithInterrupt(fn func() bool) Option {
	return func(t *NBT) { t.interrupt = fn }
}

// WithShutdown abandons pending connects once ch is closed.
func WithShutdown(ch <-chan struct{}) Option {
	return func(t *NBT) { t.shutdown = ch }
}

// WithUpcall installs the state change callback.
func WithUpcall(u core.Upcall) Option {
	return func(t *NBT) { t.cb.Load().upcall = u }
}

// New creates a transport in the Closed state.
func New(cfg core.TransportConfig, opts ...Option) *NBT {
	cfg = cfg.WithDefaults()
	t := &NBT{
		cfg:           cfg,
		clock:         core.NewSystemClock(),
		peerConnected: socket.PeerConnected,
	}
	cb := newControlBlock(cfg)
	t.cb.Store(cb)
	for _, o := range opts {
		o(t)
	}
	t.recv = receiver{cb: cb, clock: t.clock, stall: cfg.StallTimeout, metrics: &t.metrics}
	return t
}

// Done tears down any connection and releases the control block. Further
// calls fail with ErrNotConnected.
func (t *NBT) Done() error {
	if t.cb.Load() == nil {
		return nil
	}
	err := t.Disconnect()
	t.cb.Store(nil)
	return err
}

// Bind records the local NetBIOS name sent as the calling name. It may be
// called once.
func (t *NBT) Bind(local *nbt.Addr) error {
	cb := t.cb.Load()
	if cb == nil {
		return ErrNotConnected
	}
	if !local.IsNetBIOS() {
		return ErrAddressFamily
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.flags&FlagLocalAddrBound != 0 {
		return fmt.Errorf("%w: local name already bound", ErrInvalidArgument)
	}
	cb.local = local.Clone()
	cb.flags |= FlagLocalAddrBound
	return nil
}

// Connect opens a connection to peer. A NetBIOS address runs the session
// request exchange, following retargets; a direct address is usable as soon
// as TCP connects. On failure nothing is left open.
func (t *NBT) Connect(ctx context.Context, peer *nbt.Addr) error {
	cb := t.cb.Load()
	if cb == nil {
		return ErrNotConnected
	}
	if peer == nil || peer.TCP == nil {
		return fmt.Errorf("%w: no peer address", ErrInvalidArgument)
	}

	netbios := peer.IsNetBIOS()
	cb.mu.Lock()
	if cb.flags&FlagConnected != 0 || cb.conn != nil {
		cb.mu.Unlock()
		return ErrAlreadyConnected
	}
	if netbios {
		cb.flags |= FlagNetBIOS
	} else {
		cb.flags &^= FlagNetBIOS
	}
	cb.peer = peer.Clone()
	cb.state = StateClosed
	cb.mu.Unlock()

	log := logging.WithPeer(peer)
	atomic.AddUint64(&t.metrics.ConnectsAttempted, 1)
	start := time.Now()

	err := t.open(ctx, cb)
	if err == nil {
		if netbios {
			err = t.establishSession(ctx, cb)
		} else {
			cb.mu.Lock()
			cb.state = StateSession
			cb.flags |= FlagConnected
			cb.mu.Unlock()
		}
	}
	if err != nil {
		atomic.AddUint64(&t.metrics.Errors, 1)
		obs.ConnectsTotal.WithLabelValues("failure").Inc()
		log.WithError(err).Debug("connect failed")
		t.teardown(cb, false)
		return err
	}

	rtt := time.Since(start)
	timeout := t.cfg.DefaultTimeout
	if rtt*rttFactor > timeout {
		timeout = rtt * rttFactor
	}
	cb.mu.Lock()
	cb.timeout = timeout
	if cb.conn != nil {
		cb.lastLocal = cb.conn.LocalAddr()
	}
	if cb.flags&FlagConnected != 0 && !cb.active {
		cb.active = true
		obs.ActiveConnections.Inc()
	}
	cb.mu.Unlock()

	atomic.AddUint64(&t.metrics.ConnectsSucceeded, 1)
	obs.ConnectsTotal.WithLabelValues("success").Inc()
	obs.ConnectDurationSeconds.Observe(rtt.Seconds())
	log.WithField("rtt", rtt).WithField("timeout", timeout).Info("transport connected")
	cb.notify(core.EventConnected)
	return nil
}

// open dials cb.peer and installs the socket. The dial can be abandoned by
// Disconnect, the interrupt predicate, or the shutdown channel.
func (t *NBT) open(ctx context.Context, cb *controlBlock) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb.mu.Lock()
	peer := cb.peer
	opts := socket.OptionsFromConfig(t.cfg)
	opts.SendBufferSize = cb.sendBufSize
	opts.RecvBufferSize = cb.recvBufSize
	opts.QoS = cb.qos
	if cb.flags&FlagBoundToInterface != 0 {
		opts.BoundInterface = cb.boundIf
	}
	cb.dialCancel = cancel
	cb.mu.Unlock()

	opts.OnOpen = func() { cb.setFlags(FlagSocketOpened) }
	opts.OnAbort = func() { cb.clearFlags(FlagSocketOpened) }
	opts.Interrupt = t.interrupt
	opts.Shutdown = t.shutdown

	conn, err := socket.Dial(dctx, peer.TCP, opts)

	cb.mu.Lock()
	cb.dialCancel = nil
	if err == nil && cb.flags&FlagSocketOpened == 0 {
		// Disconnect won the race with the dial.
		cb.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	if err == nil {
		cb.conn = conn
	}
	cb.mu.Unlock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, socket.ErrInterrupted):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	case errors.Is(err, socket.ErrShutdown):
		return fmt.Errorf("%w: %w", ErrConnAborted, err)
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return err
}

// Disconnect closes the connection. It is idempotent and safe to call from
// any goroutine, including while Connect or Recv is blocked.
func (t *NBT) Disconnect() error {
	cb := t.cb.Load()
	if cb == nil {
		return nil
	}
	t.teardown(cb, true)
	return nil
}

// teardown clears the connection flags before the blocking close so that a
// concurrent reader sees the transport as down when its read fails.
func (t *NBT) teardown(cb *controlBlock, notify bool) {
	cb.sockMu.Lock()
	defer cb.sockMu.Unlock()

	cb.mu.Lock()
	conn := cb.conn
	wasConnected := cb.flags&FlagConnected != 0
	cb.flags &^= FlagConnected | FlagSocketOpened
	if cb.state != StateRetargeted {
		cb.state = StateClosed
	}
	cb.gen++
	cb.releaseActiveLocked()
	cancel := cb.dialCancel
	cb.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return
	}

	var err error
	if wasConnected {
		err = socket.Shutdown(conn)
	} else {
		err = conn.Close()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Debugf("nbt: close: %v", err)
	}

	cb.mu.Lock()
	if cb.conn == conn {
		cb.conn = nil
	}
	cb.mu.Unlock()

	if notify {
		cb.notify(core.EventDisconnected)
	}
}

// Send frames msg and writes it in full. msg is released on every path.
func (t *NBT) Send(msg *core.MessageBuffer) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidArgument)
	}
	defer msg.Release()

	cb := t.cb.Load()
	if cb == nil {
		return ErrNotConnected
	}
	cb.mu.Lock()
	state, conn, gen, netbios := cb.state, cb.conn, cb.gen, cb.flags&FlagNetBIOS != 0
	cb.mu.Unlock()
	if state != StateSession || conn == nil {
		return ErrNotConnected
	}

	length := msg.Len()
	if uint64(length) > uint64(nbt.MaxLength(netbios)) {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}
	msg.Prepend(nbt.EncodeHeader(nbt.TypeMessage, uint32(length)))

	if err := t.writeFrame(cb, conn, gen, msg); err != nil {
		atomic.AddUint64(&t.metrics.Errors, 1)
		return err
	}
	atomic.AddUint64(&t.metrics.MessagesSent, 1)
	atomic.AddUint64(&t.metrics.BytesSent, uint64(length))
	obs.MessagesTotal.WithLabelValues(obs.DirSend).Inc()
	obs.BytesTotal.WithLabelValues(obs.DirSend).Add(float64(length))
	return nil
}

// writeFrame writes a framed message under the send timeout.
func (t *NBT) writeFrame(cb *controlBlock, conn net.Conn, gen uint64, frame *core.MessageBuffer) error {
	cb.writeMu.Lock()
	defer cb.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.SendTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if _, err := frame.WriteTo(conn); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: send: %w", ErrTimedOut, err)
		}
		if !cb.healthy(gen) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Recv returns the next session message, blocking until one arrives.
// Encrypted SMB3 messages pass through the decryptor when one is installed.
// Once a receive error has broken the session, Recv fails with
// ErrNotConnected until the transport is reconnected.
func (t *NBT) Recv() (*core.MessageBuffer, error) {
	cb := t.cb.Load()
	if cb == nil {
		return nil, ErrNotConnected
	}
	cb.mu.Lock()
	conn, gen := cb.conn, cb.gen
	usable := cb.flags&FlagConnected != 0 || cb.state == StateSessionRequestSent
	cb.mu.Unlock()
	if conn == nil || !usable {
		return nil, ErrNotConnected
	}

	typ, msg, err := t.recv.receive(conn, gen, 0)
	if err != nil {
		atomic.AddUint64(&t.metrics.Errors, 1)
		return nil, err
	}
	if typ != nbt.TypeMessage {
		msg.Release()
		atomic.AddUint64(&t.metrics.Errors, 1)
		return nil, fmt.Errorf("%w: unexpected %s frame", ErrProtocol, typ)
	}

	n := msg.Len()
	if b, ok := msg.FirstByte(); ok && b == core.TransformSentinel && t.decryptor != nil {
		plain, err := t.decryptor.Decrypt(msg)
		if err != nil {
			msg.Release()
			atomic.AddUint64(&t.metrics.Errors, 1)
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		msg = plain
	}

	atomic.AddUint64(&t.metrics.MessagesReceived, 1)
	atomic.AddUint64(&t.metrics.BytesReceived, uint64(n))
	obs.MessagesTotal.WithLabelValues(obs.DirRecv).Inc()
	obs.BytesTotal.WithLabelValues(obs.DirRecv).Add(float64(n))
	return msg, nil
}

// State returns the session state and socket flags.
func (t *NBT) State() (State, Flags) {
	cb := t.cb.Load()
	if cb == nil {
		return StateClosed, 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.flags
}

// Peer returns the current peer, which reflects any retarget.
func (t *NBT) Peer() *nbt.Addr {
	cb := t.cb.Load()
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.peer.Clone()
}

// LocalAddr returns the local endpoint of the most recent connection.
func (t *NBT) LocalAddr() net.Addr {
	cb := t.cb.Load()
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastLocal
}

// Timeout returns the adaptive request timeout.
func (t *NBT) Timeout() time.Duration {
	cb := t.cb.Load()
	if cb == nil {
		return 0
	}
	return cb.currentTimeout()
}
