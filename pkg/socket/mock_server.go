package socket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
)

// MockHandler scripts the server side of one accepted connection.
type MockHandler func(c *MockConn)

// SessionRequest is a session request observed by a MockServer.
type SessionRequest struct {
	Called  string
	Calling string
}

// MockServer is a loopback TCP server that plays a scripted NetBIOS session
// service or direct TCP peer. It is intended for tests.
type MockServer struct {
	ln      *net.TCPListener
	netbios bool
	handler MockHandler

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	requests []SessionRequest
	closed   bool
	wg       sync.WaitGroup
}

// NewMockServer starts a mock server on 127.0.0.1 with an ephemeral port.
// Every accepted connection runs handler in its own goroutine.
func NewMockServer(netbios bool, handler MockHandler) (*MockServer, error) {
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	s := &MockServer{ln: ln, netbios: netbios, handler: handler}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *MockServer) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Accepted returns the number of connections accepted so far.
func (s *MockServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// SessionRequests returns the session requests received so far.
func (s *MockServer) SessionRequests() []SessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionRequest(nil), s.requests...)
}

// Close stops the listener, closes every accepted connection and waits for
// the handlers to return.
func (s *MockServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *MockServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.accepted++
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if s.handler != nil {
				s.handler(&MockConn{Conn: conn, server: s})
			}
		}()
	}
}

// MockConn is the server end of a connection accepted by a MockServer.
type MockConn struct {
	net.Conn
	server *MockServer
}

// ReadFrame reads one framed packet.
func (c *MockConn) ReadFrame() (nbt.Type, []byte, error) {
	hdr := make([]byte, nbt.HeaderSize)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return 0, nil, err
	}
	t, length, err := nbt.DecodeHeader(hdr, c.server.netbios)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c, body); err != nil {
		return 0, nil, err
	}
	return t, body, nil
}

// WriteFrame writes one framed packet.
func (c *MockConn) WriteFrame(t nbt.Type, payload []byte) error {
	frame := append(nbt.EncodeHeader(t, uint32(len(payload))), payload...)
	_, err := c.Write(frame)
	return err
}

// ReadSessionRequest reads and records a session request.
func (c *MockConn) ReadSessionRequest() (SessionRequest, error) {
	t, body, err := c.ReadFrame()
	if err != nil {
		return SessionRequest{}, err
	}
	if t != nbt.TypeSessionRequest {
		return SessionRequest{}, fmt.Errorf("expected session request, got %s", t)
	}
	called, calling, err := nbt.ParseSessionRequest(body)
	if err != nil {
		return SessionRequest{}, err
	}
	req := SessionRequest{Called: called, Calling: calling}
	c.server.mu.Lock()
	c.server.requests = append(c.server.requests, req)
	c.server.mu.Unlock()
	return req, nil
}

// Drain reads until the client goes away.
func (c *MockConn) Drain() {
	_, _ = io.Copy(io.Discard, c)
}

// AcceptSession answers a session request positively and then runs next, or
// holds the connection open until the client leaves.
func AcceptSession(next MockHandler) MockHandler {
	return func(c *MockConn) {
		if _, err := c.ReadSessionRequest(); err != nil {
			logging.Debugf("mock server: %v", err)
			return
		}
		if err := c.WriteFrame(nbt.TypePositiveResponse, nil); err != nil {
			return
		}
		if next != nil {
			next(c)
			return
		}
		c.Drain()
	}
}

// RejectSession answers a session request negatively with code.
func RejectSession(code byte) MockHandler {
	return func(c *MockConn) {
		if _, err := c.ReadSessionRequest(); err != nil {
			return
		}
		_ = c.WriteFrame(nbt.TypeNegativeResponse, []byte{code})
		c.Drain()
	}
}

// RetargetSession answers a session request with a retarget to addr.
func RetargetSession(addr *net.TCPAddr) MockHandler {
	return func(c *MockConn) {
		if _, err := c.ReadSessionRequest(); err != nil {
			return
		}
		body, err := nbt.BuildRetarget(addr.IP, addr.Port)
		if err != nil {
			logging.Errorf("mock server: %v", err)
			return
		}
		_ = c.WriteFrame(nbt.TypeRetargetResponse, body)
		c.Drain()
	}
}

// Echo returns every message frame to the sender until the connection ends.
func Echo(c *MockConn) {
	for {
		t, body, err := c.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debugf("mock server echo: %v", err)
			}
			return
		}
		if t != nbt.TypeMessage {
			continue
		}
		if err := c.WriteFrame(nbt.TypeMessage, body); err != nil {
			return
		}
	}
}
