package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/obs"
	"github.com/irctrakz/nbtransport/pkg/socket"
)

func testConfig() core.TransportConfig {
	cfg := core.DefaultTransportConfig()
	cfg.ConnectTimeout = 5 * time.Second
	cfg.SendTimeout = 5 * time.Second
	return cfg
}

func startServer(t *testing.T, netbios bool, h socket.MockHandler) *socket.MockServer {
	t.Helper()
	srv, err := socket.NewMockServer(netbios, h)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func serverAddr(t *testing.T, srv *socket.MockServer) *nbt.Addr {
	t.Helper()
	a, err := nbt.NewAddr(srv.Addr(), "FILESERVER", "", nbt.SuffixServer)
	require.NoError(t, err)
	return a
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) TransportEvent(ev core.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) get() []core.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Event(nil), l.events...)
}

func newTransport(t *testing.T, cfg core.TransportConfig, opts ...Option) *NBT {
	t.Helper()
	tr := New(cfg, opts...)
	t.Cleanup(func() { tr.Done() })
	return tr
}

func TestDirectTCPSendRecv(t *testing.T) {
	srv := startServer(t, false, socket.Echo)
	tr := newTransport(t, testConfig())

	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	state, flags := tr.State()
	assert.Equal(t, StateSession, state)
	assert.Equal(t, FlagSocketOpened|FlagConnected, flags)

	require.NoError(t, tr.Send(core.NewMessageBuffer([]byte("ping"))))
	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg.Bytes()))
	msg.Release()

	assert.Empty(t, srv.SessionRequests(), "direct TCP must not send a session request")
	assert.NotNil(t, tr.LocalAddr())

	m := tr.Metrics()
	assert.Equal(t, uint64(1), m.MessagesSent)
	assert.Equal(t, uint64(1), m.MessagesReceived)
	assert.Equal(t, uint64(4), m.BytesReceived)
}

func TestNetBIOSSessionEstablishment(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(socket.Echo))
	events := &eventLog{}
	tr := newTransport(t, testConfig(), WithUpcall(events))

	local, err := nbt.NewAddr(nil, "WORKSTATION", "", nbt.SuffixWorkstation)
	require.NoError(t, err)
	require.NoError(t, tr.Bind(local))
	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, srv)))

	reqs := srv.SessionRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, nbt.FirstLevelEncode("FILESERVER", nbt.SuffixServer), reqs[0].Called)
	assert.Equal(t, nbt.FirstLevelEncode("WORKSTATION", nbt.SuffixWorkstation), reqs[0].Calling)

	state, flags := tr.State()
	assert.Equal(t, StateSession, state)
	assert.Equal(t, FlagNetBIOS|FlagSocketOpened|FlagConnected|FlagLocalAddrBound, flags)
	assert.GreaterOrEqual(t, tr.Timeout(), core.DefaultTimeout)

	require.NoError(t, tr.Send(core.NewMessageBuffer([]byte("hello"))))
	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Bytes()))

	require.NoError(t, tr.Disconnect())
	assert.Equal(t, []core.Event{core.EventConnected, core.EventDisconnected}, events.get())
}

func TestUnboundCallingNameIsWildcard(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(nil))
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, srv)))

	reqs := srv.SessionRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, nbt.FirstLevelWildcard(), reqs[0].Calling)
}

func TestKeepalivesAreInvisible(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(func(c *socket.MockConn) {
		_ = c.WriteFrame(nbt.TypeKeepalive, nil)
		_ = c.WriteFrame(nbt.TypeKeepalive, nil)
		_ = c.WriteFrame(nbt.TypeMessage, []byte("after keepalives"))
		c.Drain()
	}))
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, srv)))

	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "after keepalives", string(msg.Bytes()))
	assert.Equal(t, uint64(2), tr.Metrics().Keepalives)
}

func TestRetargetFollowsToNewServer(t *testing.T) {
	target := startServer(t, true, socket.AcceptSession(socket.Echo))
	redirector := startServer(t, true, socket.RetargetSession(target.Addr()))
	events := &eventLog{}
	tr := newTransport(t, testConfig(), WithUpcall(events))

	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, redirector)))

	assert.Equal(t, target.Addr().Port, tr.Peer().TCP.Port)
	assert.Len(t, redirector.SessionRequests(), 1)
	assert.Len(t, target.SessionRequests(), 1)
	state, _ := tr.State()
	assert.Equal(t, StateSession, state)
	assert.Equal(t, uint64(1), tr.Metrics().Retargets)
	assert.Equal(t, []core.Event{core.EventRetargeted, core.EventConnected}, events.get())

	require.NoError(t, tr.Send(core.NewMessageBuffer([]byte("via target"))))
	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "via target", string(msg.Bytes()))
}

func TestRetargetLimit(t *testing.T) {
	var srv *socket.MockServer
	srv = startServer(t, true, func(c *socket.MockConn) {
		socket.RetargetSession(srv.Addr())(c)
	})
	cfg := testConfig()
	cfg.MaxRetargets = 2
	tr := newTransport(t, cfg)

	err := tr.Connect(context.Background(), serverAddr(t, srv))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetargetLimit)
	assert.Equal(t, syscall.ELOOP, Errno(err))
	assert.Equal(t, 3, srv.Accepted())

	state, flags := tr.State()
	assert.Equal(t, StateRetargeted, state)
	assert.Zero(t, flags&(FlagConnected|FlagSocketOpened))
}

func TestNegativeSessionResponse(t *testing.T) {
	srv := startServer(t, true, socket.RejectSession(nbt.CalledNameNotPresent))
	tr := newTransport(t, testConfig())

	err := tr.Connect(context.Background(), serverAddr(t, srv))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnAborted)
	var neg *nbt.NegativeResponseError
	require.True(t, errors.As(err, &neg))
	assert.Equal(t, nbt.CalledNameNotPresent, neg.Code)
	assert.True(t, tr.Fatal(err))

	state, flags := tr.State()
	assert.Equal(t, StateClosed, state)
	assert.Zero(t, flags&(FlagConnected|FlagSocketOpened))
}

func TestConnectWhileConnected(t *testing.T) {
	srv := startServer(t, false, nil)
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))

	err := tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr()))
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, syscall.EISCONN, Errno(err))
}

func TestReconnectAfterDisconnect(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(socket.Echo))
	tr := newTransport(t, testConfig())
	peer := serverAddr(t, srv)

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Connect(context.Background(), peer))
		require.NoError(t, tr.Send(core.NewMessageBuffer([]byte{byte(i)})))
		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, msg.Bytes())
		require.NoError(t, tr.Disconnect())
		require.NoError(t, tr.Disconnect())
	}
	assert.Equal(t, 2, srv.Accepted())

	err := tr.Send(core.NewMessageBuffer([]byte("late")))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectUnblocksRecv(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(nil))
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, srv)))

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Recv()
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Disconnect())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.True(t, tr.Fatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after Disconnect")
	}
}

func TestReconnectWithReaderBlockedInRecv(t *testing.T) {
	var finished atomic.Int32
	srv := startServer(t, true, socket.AcceptSession(func(c *socket.MockConn) {
		socket.Echo(c)
		finished.Add(1)
	}))
	tr := newTransport(t, testConfig())
	peer := serverAddr(t, srv)
	require.NoError(t, tr.Connect(context.Background(), peer))

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Recv()
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Connect(context.Background(), peer))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after Disconnect")
	}

	// The stale reader must not have touched the new session.
	state, flags := tr.State()
	assert.Equal(t, StateSession, state)
	assert.Equal(t, FlagSocketOpened|FlagConnected, flags&(FlagSocketOpened|FlagConnected))
	require.NoError(t, tr.Send(core.NewMessageBuffer([]byte("again"))))
	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "again", string(msg.Bytes()))

	assert.Equal(t, 2, srv.Accepted())
	assert.Eventually(t, func() bool { return finished.Load() == 1 }, 5*time.Second, 10*time.Millisecond,
		"first socket was not closed")
	require.NoError(t, tr.Disconnect())
	assert.Eventually(t, func() bool { return finished.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestStallBreaksSession(t *testing.T) {
	srv := startServer(t, false, func(c *socket.MockConn) {
		_, _ = c.Write(nbt.EncodeHeader(nbt.TypeMessage, 100))
		_, _ = c.Write(make([]byte, 10))
		time.Sleep(700 * time.Millisecond)
		// The rest of the body looks like a frame of its own.
		rest := append(nbt.EncodeHeader(nbt.TypeMessage, 5), "hello"...)
		rest = append(rest, make([]byte, 90-len(rest))...)
		_, _ = c.Write(rest)
		c.Drain()
	})
	cfg := testConfig()
	cfg.StallTimeout = 200 * time.Millisecond
	tr := newTransport(t, cfg)
	tr.peerConnected = func(*net.TCPConn) bool { return true }
	active := testutil.ToFloat64(obs.ActiveConnections)
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	assert.Equal(t, active+1, testutil.ToFloat64(obs.ActiveConnections))

	_, err := tr.Recv()
	require.ErrorIs(t, err, ErrStallTimeout)
	assert.True(t, tr.Fatal(err))
	assert.Equal(t, active, testutil.ToFloat64(obs.ActiveConnections))

	_, err = tr.Recv()
	assert.ErrorIs(t, err, ErrNotConnected)
	state, _ := tr.State()
	assert.Equal(t, StateClosed, state)
}

func TestActiveGaugeAfterPeerClose(t *testing.T) {
	srv := startServer(t, false, func(c *socket.MockConn) {})
	active := testutil.ToFloat64(obs.ActiveConnections)

	tr := New(testConfig())
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	assert.Equal(t, active+1, testutil.ToFloat64(obs.ActiveConnections))
	_, err := tr.Recv()
	require.ErrorIs(t, err, ErrPeerClosed)
	assert.Equal(t, active, testutil.ToFloat64(obs.ActiveConnections))

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Done())
	assert.Equal(t, active, testutil.ToFloat64(obs.ActiveConnections))

	tr = New(testConfig())
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	require.NoError(t, tr.Done())
	assert.Equal(t, active, testutil.ToFloat64(obs.ActiveConnections))
}

func TestPeerCloseSurfacesOnRecv(t *testing.T) {
	srv := startServer(t, false, func(c *socket.MockConn) {})
	events := &eventLog{}
	tr := newTransport(t, testConfig(), WithUpcall(events))
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))

	_, err := tr.Recv()
	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.True(t, tr.Fatal(err))
	assert.Contains(t, events.get(), core.EventPeerClosed)

	err = tr.Send(core.NewMessageBuffer([]byte("x")))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	srv := startServer(t, true, socket.AcceptSession(nil))
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), serverAddr(t, srv)))

	msg := core.NewMessageBuffer(make([]byte, nbt.NetBIOSLengthMask+1))
	err := tr.Send(msg)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, syscall.EMSGSIZE, Errno(err))
	assert.True(t, msg.Released())
}

func TestSendReleasesMessage(t *testing.T) {
	tr := newTransport(t, testConfig())
	msg := core.NewMessageBuffer([]byte("nobody listening"))
	assert.ErrorIs(t, tr.Send(msg), ErrNotConnected)
	assert.True(t, msg.Released())
	assert.ErrorIs(t, tr.Send(nil), ErrInvalidArgument)
}

func TestSendUsesChunkChain(t *testing.T) {
	got := make(chan []byte, 1)
	srv := startServer(t, false, func(c *socket.MockConn) {
		_, body, err := c.ReadFrame()
		if err == nil {
			got <- body
		}
		c.Drain()
	})
	tr := newTransport(t, testConfig())
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))

	msg := core.NewMessageBuffer([]byte("head-"))
	msg.Append([]byte("tail"))
	require.NoError(t, tr.Send(msg))
	select {
	case body := <-got:
		assert.Equal(t, "head-tail", string(body))
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the message")
	}
}

type xorDecryptor struct{ calls int }

func (d *xorDecryptor) Decrypt(msg *core.MessageBuffer) (*core.MessageBuffer, error) {
	d.calls++
	in := msg.Bytes()
	out := make([]byte, len(in)-1)
	for i, b := range in[1:] {
		out[i] = b ^ 0xFF
	}
	msg.Release()
	return core.NewMessageBuffer(out), nil
}

func TestRecvDecryptsTransformMessages(t *testing.T) {
	srv := startServer(t, false, func(c *socket.MockConn) {
		_ = c.WriteFrame(nbt.TypeMessage, []byte{core.TransformSentinel, 'o' ^ 0xFF, 'k' ^ 0xFF})
		_ = c.WriteFrame(nbt.TypeMessage, []byte{0xFE, 'S', 'M', 'B'})
		c.Drain()
	})
	dec := &xorDecryptor{}
	tr := newTransport(t, testConfig(), WithDecryptor(dec))
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))

	msg, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(msg.Bytes()))

	msg, err = tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 'S', 'M', 'B'}, msg.Bytes())
	assert.Equal(t, 1, dec.calls)
}

func TestFatal(t *testing.T) {
	srv := startServer(t, false, nil)
	tr := newTransport(t, testConfig())
	queries := 0
	tr.peerConnected = func(*net.TCPConn) bool {
		queries++
		return true
	}

	assert.False(t, tr.Fatal(nil))
	// Not connected: any error is fatal.
	assert.True(t, tr.Fatal(ErrTimedOut))
	assert.Zero(t, queries)

	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	for _, err := range []error{
		ErrPeerClosed, ErrNotConnected, ErrConnAborted,
		syscall.EHOSTDOWN, syscall.ENETUNREACH, syscall.ECONNRESET, syscall.EADDRNOTAVAIL,
	} {
		assert.True(t, tr.Fatal(err), "%v", err)
	}
	assert.Zero(t, queries, "listed codes must not query the socket")

	assert.False(t, tr.Fatal(ErrTimedOut))
	assert.Equal(t, 1, queries)

	tr.peerConnected = func(*net.TCPConn) bool { return false }
	assert.True(t, tr.Fatal(ErrTimedOut))
}

func TestBind(t *testing.T) {
	tr := newTransport(t, testConfig())
	err := tr.Bind(nbt.DirectAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 445}))
	assert.ErrorIs(t, err, ErrAddressFamily)

	local, err := nbt.NewAddr(nil, "ME", "", nbt.SuffixWorkstation)
	require.NoError(t, err)
	require.NoError(t, tr.Bind(local))
	assert.ErrorIs(t, tr.Bind(local), ErrInvalidArgument)
}

func TestParams(t *testing.T) {
	srv := startServer(t, false, nil)
	tr := newTransport(t, testConfig())

	v, err := tr.GetParam(core.ParamSendBufferSize)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultSendBufferSize, v)

	require.NoError(t, tr.SetParam(core.ParamRecvBufferSize, 4096))
	assert.Equal(t, core.MinRecvChunkSize, tr.cb.Load().recvChunkSize())
	assert.ErrorIs(t, tr.SetParam(core.ParamRecvBufferSize, "big"), ErrInvalidArgument)
	assert.ErrorIs(t, tr.SetParam(core.ParamSendBufferSize, -1), ErrInvalidArgument)

	require.NoError(t, tr.SetParam(core.ParamTimeout, 3*time.Second))
	v, _ = tr.GetParam(core.ParamTimeout)
	assert.Equal(t, 3*time.Second, v)

	up := &eventLog{}
	require.NoError(t, tr.SetParam(core.ParamUpcall, up))
	v, _ = tr.GetParam(core.ParamUpcall)
	assert.Same(t, up, v)
	require.NoError(t, tr.SetParam(core.ParamUpcall, nil))
	assert.ErrorIs(t, tr.SetParam(core.ParamUpcall, 42), ErrInvalidArgument)

	lo, err := net.InterfaceByName("lo")
	if err == nil {
		require.NoError(t, tr.SetParam(core.ParamBoundInterface, "lo"))
		v, _ = tr.GetParam(core.ParamBoundInterface)
		assert.Equal(t, lo.Index, v)
		_, flags := tr.State()
		assert.NotZero(t, flags&FlagBoundToInterface)
	}
	require.NoError(t, tr.SetParam(core.ParamBoundInterface, 0))
	_, flags := tr.State()
	assert.Zero(t, flags&FlagBoundToInterface)

	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))
	require.NoError(t, tr.SetParam(core.ParamQoS, 0x28))
	v, _ = tr.GetParam(core.ParamQoS)
	assert.Equal(t, 0x28, v)
	assert.ErrorIs(t, tr.SetParam(core.ParamQoS, 256), ErrInvalidArgument)

	_, err = tr.GetParam(core.Param(99))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDone(t *testing.T) {
	srv := startServer(t, false, nil)
	tr := New(testConfig())
	require.NoError(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())))

	require.NoError(t, tr.Done())
	require.NoError(t, tr.Done())
	assert.ErrorIs(t, tr.Connect(context.Background(), nbt.DirectAddr(srv.Addr())), ErrNotConnected)
	_, err := tr.Recv()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = tr.GetParam(core.ParamTimeout)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectRefused(t *testing.T) {
	srv := startServer(t, false, nil)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	tr := newTransport(t, testConfig())
	err := tr.Connect(context.Background(), nbt.DirectAddr(addr))
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED))
	_, flags := tr.State()
	assert.Zero(t, flags&FlagSocketOpened)

	assert.ErrorIs(t, tr.Connect(context.Background(), nil), ErrInvalidArgument)
}

func TestErrno(t *testing.T) {
	assert.Equal(t, syscall.Errno(0), Errno(nil))
	assert.Equal(t, syscall.ECONNRESET, Errno(&net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	assert.Equal(t, syscall.ENOTCONN, Errno(net.ErrClosed))
	assert.Equal(t, syscall.EIO, Errno(errors.New("boom")))
	assert.True(t, errors.Is(ErrPeerClosed, syscall.EPIPE))
}
