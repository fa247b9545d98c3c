// Package socket opens and configures the TCP sockets a session transport
// runs on.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/irctrakz/nbtransport/pkg/logging"
)

var (
	// ErrInterrupted indicates the owner interrupted a pending connect.
	ErrInterrupted = errors.New("connect interrupted")

	// ErrShutdown indicates a pending connect was abandoned for shutdown.
	ErrShutdown = errors.New("connect abandoned: shutting down")

	// ErrUnsupported indicates a socket option this platform cannot apply.
	ErrUnsupported = errors.New("socket option not supported on this platform")
)

type dialResult struct {
	conn net.Conn
	err  error
}

// Dial opens a TCP connection to raddr. The connect runs in the background
// while the caller polls it in PollSlice steps, so an interrupt or shutdown
// is observed within one slice even when the handshake is stuck.
//
// On any failure after the socket was opened, opts.OnAbort runs before Dial
// returns and no socket is left behind.
func Dial(ctx context.Context, raddr *net.TCPAddr, opts DialOptions) (*net.TCPConn, error) {
	if raddr == nil {
		return nil, fmt.Errorf("connect: no address")
	}
	network := "tcp4"
	if raddr.IP.To4() == nil {
		network = "tcp6"
	}

	var opened atomic.Bool
	d := net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: opts.KeepAlivePeriod,
		Control: func(network, address string, c syscall.RawConn) error {
			if opened.CompareAndSwap(false, true) && opts.OnOpen != nil {
				opts.OnOpen()
			}
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = configureSocket(fd, network, opts)
			}); err != nil {
				return err
			}
			return serr
		},
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	atomic.AddUint64(&dialStart, 1)
	atomic.AddInt64(&dialInflight, 1)
	defer atomic.AddInt64(&dialInflight, -1)

	ch := make(chan dialResult, 1)
	go func() {
		c, err := d.DialContext(dctx, network, raddr.String())
		ch <- dialResult{conn: c, err: err}
	}()

	abort := func(reason error) (*net.TCPConn, error) {
		cancel()
		if r := <-ch; r.conn != nil {
			r.conn.Close()
		}
		atomic.AddUint64(&dialAbort, 1)
		if opened.Load() && opts.OnAbort != nil {
			opts.OnAbort()
		}
		return nil, fmt.Errorf("connect %s: %w", raddr, reason)
	}

	ticker := time.NewTicker(PollSlice)
	defer ticker.Stop()

	for {
		select {
		case r := <-ch:
			if r.err != nil {
				atomic.AddUint64(&dialFail, 1)
				if opened.Load() && opts.OnAbort != nil {
					opts.OnAbort()
				}
				return nil, fmt.Errorf("connect %s: %w", raddr, r.err)
			}
			conn := r.conn.(*net.TCPConn)
			if err := configureConn(conn, opts); err != nil {
				conn.Close()
				atomic.AddUint64(&dialFail, 1)
				if opts.OnAbort != nil {
					opts.OnAbort()
				}
				return nil, fmt.Errorf("configure %s: %w", raddr, err)
			}
			atomic.AddUint64(&dialOk, 1)
			return conn, nil
		case <-ticker.C:
			if opts.Interrupt != nil && opts.Interrupt() {
				logging.Debugf("connect to %s interrupted by owner", raddr)
				return abort(ErrInterrupted)
			}
		case <-opts.Shutdown:
			return abort(ErrShutdown)
		}
	}
}

// configureConn applies the options that the net package exposes directly.
func configureConn(conn *net.TCPConn, opts DialOptions) error {
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	if opts.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(opts.SendBufferSize); err != nil {
			logging.Debugf("set send buffer %d: %v", opts.SendBufferSize, err)
		}
	}
	if opts.RecvBufferSize > 0 {
		if err := conn.SetReadBuffer(opts.RecvBufferSize); err != nil {
			logging.Debugf("set receive buffer %d: %v", opts.RecvBufferSize, err)
		}
	}
	if opts.QoS > 0 {
		if err := SetQoS(conn, opts.QoS); err != nil {
			logging.Debugf("set QoS %#x: %v", opts.QoS, err)
		}
	}
	return nil
}

// Shutdown half-closes both directions of conn and then closes it.
func Shutdown(conn *net.TCPConn) error {
	_ = conn.CloseRead()
	_ = conn.CloseWrite()
	return conn.Close()
}
