package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/obs"
)

// Bounds on the read deadline used while waiting for body bytes. The
// deadline only paces the stall check; it never fails a read by itself.
const (
	minReadSlice = 10 * time.Millisecond
	maxReadSlice = time.Second
)

// receiver reads frames off a connection. Only one goroutine may call
// receive at a time.
type receiver struct {
	cb      *controlBlock
	clock   core.WakeClock
	stall   time.Duration
	metrics *core.TransportMetrics
}

func (r *receiver) readSlice() time.Duration {
	s := r.stall / 4
	if s > maxReadSlice {
		s = maxReadSlice
	}
	if s < minReadSlice {
		s = minReadSlice
	}
	return s
}

// receive returns the next frame the caller should see. Keepalives and
// empty messages are consumed here. Once a session is up, any frame other
// than a session message is logged and dropped.
//
// gen is the generation of conn. Failures on a socket that has since been
// replaced report ErrNotConnected and leave the new session alone.
//
// budget bounds the wait for a header; zero waits indefinitely.
func (r *receiver) receive(conn net.Conn, gen uint64, budget time.Duration) (nbt.Type, *core.MessageBuffer, error) {
	netbios := r.cb.has(FlagNetBIOS)
	for {
		var hdr [nbt.HeaderSize]byte
		if err := r.readHeader(conn, gen, hdr[:], budget); err != nil {
			return 0, nil, err
		}
		typ, length, err := nbt.DecodeHeader(hdr[:], netbios)
		if err != nil {
			if !r.cb.markBroken(gen) {
				return 0, nil, ErrNotConnected
			}
			obs.ProtocolErrorsTotal.WithLabelValues("header").Inc()
			logging.WarnWithFields(r.fields(hdr[0], length), "nbt: bad session header: %v", err)
			return 0, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}

		msg, err := r.readBody(conn, gen, int(length))
		if err != nil {
			return 0, nil, err
		}

		switch {
		case typ == nbt.TypeKeepalive:
			msg.Release()
			atomic.AddUint64(&r.metrics.Keepalives, 1)
			obs.KeepalivesTotal.Inc()
			continue
		case typ == nbt.TypeMessage && length == 0:
			logging.WarnWithFields(r.fields(byte(typ), length), "nbt: skipping empty session message")
			msg.Release()
			continue
		case typ != nbt.TypeMessage && r.cb.getState() == StateSession:
			logging.WarnWithFields(r.fields(byte(typ), length), "nbt: dropping unexpected frame on established session")
			obs.ProtocolErrorsTotal.WithLabelValues("unexpected_type").Inc()
			msg.Release()
			continue
		}
		return typ, msg, nil
	}
}

func (r *receiver) fields(typ byte, length uint32) logrus.Fields {
	f := r.cb.logFields()
	f["type"] = nbt.Type(typ).String()
	f["len"] = length
	return f
}

// readHeader fills hdr. Without a budget it blocks until the header arrives.
// With one, a timeout is retried once for whatever the budget has left,
// after time spent asleep is discounted.
func (r *receiver) readHeader(conn net.Conn, gen uint64, hdr []byte, budget time.Duration) error {
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return r.surface(gen, err)
	}

	origin := r.clock.Now()
	retried := false
	n := 0
	for n < len(hdr) {
		m, err := conn.Read(hdr[n:])
		n += m
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF) && !r.opened(gen):
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		case errors.Is(err, io.EOF) && n == 0:
			return r.peerClosed(gen, 0, 0)
		case errors.Is(err, io.EOF):
			if !r.cb.markBroken(gen) {
				return fmt.Errorf("%w: %w", ErrNotConnected, err)
			}
			obs.ProtocolErrorsTotal.WithLabelValues("short_header").Inc()
			return fmt.Errorf("%w: connection closed after %d header bytes", ErrProtocol, n)
		case isTimeout(err) && budget > 0 && !retried:
			retried = true
			if wake := r.clock.LastWake(); wake.After(origin) {
				origin = wake
			}
			left := budget - r.clock.Now().Sub(origin)
			if left <= 0 {
				return r.headerTimeout(gen, n)
			}
			if err := conn.SetReadDeadline(time.Now().Add(left)); err != nil {
				return r.surface(gen, err)
			}
		case isTimeout(err) && budget > 0:
			return r.headerTimeout(gen, n)
		default:
			return r.surface(gen, err)
		}
	}
	return nil
}

func (r *receiver) headerTimeout(gen uint64, partial int) error {
	if partial > 0 {
		// The stream is mid-frame and cannot be resynchronized.
		r.cb.markBroken(gen)
	}
	return fmt.Errorf("%w: waiting for session header", ErrTimedOut)
}

// readBody reads length bytes in chunks no larger than the receive chunk
// size. The read fails with ErrStallTimeout once no byte has arrived for the
// stall timeout; progress and system wakes both restart that window.
func (r *receiver) readBody(conn net.Conn, gen uint64, length int) (*core.MessageBuffer, error) {
	msg := core.NewChunkedBuffer(chunkPut)
	if length == 0 {
		return msg, nil
	}

	slice := r.readSlice()
	chunkSize := r.cb.recvChunkSize()
	origin := r.clock.Now()
	done := 0
	for done < length {
		want := length - done
		if want > chunkSize {
			want = chunkSize
		}
		chunk := chunkGet(want)
		got := 0
		for got < want {
			if err := conn.SetReadDeadline(time.Now().Add(slice)); err != nil {
				chunkPut(chunk)
				msg.Release()
				return nil, r.surface(gen, err)
			}
			n, err := conn.Read(chunk[got:want])
			if n > 0 {
				got += n
				origin = r.clock.Now()
			}
			if err == nil {
				continue
			}
			if isTimeout(err) {
				now := r.clock.Now()
				if wake := r.clock.LastWake(); wake.After(origin) {
					origin = wake
				}
				if now.Sub(origin) <= r.stall {
					continue
				}
				chunkPut(chunk)
				msg.Release()
				if !r.cb.markBroken(gen) {
					return nil, ErrNotConnected
				}
				atomic.AddUint64(&r.metrics.StallTimeouts, 1)
				obs.StallTimeoutsTotal.Inc()
				f := r.cb.logFields()
				f["len"] = length
				f["read"] = done + got
				logging.WarnWithFields(f, "nbt: no progress for %v", r.stall)
				return nil, fmt.Errorf("%w: %d of %d body bytes after %v", ErrStallTimeout, done+got, length, r.stall)
			}
			chunkPut(chunk)
			msg.Release()
			if errors.Is(err, io.EOF) && r.opened(gen) {
				return nil, r.peerClosed(gen, done+got, length)
			}
			return nil, r.surface(gen, err)
		}
		msg.Append(chunk[:want])
		done += want
	}
	return msg, nil
}

// opened reports whether the socket of generation gen is still open. A
// local Disconnect clears it before shutting the socket down.
func (r *receiver) opened(gen uint64) bool {
	r.cb.mu.Lock()
	defer r.cb.mu.Unlock()
	return r.cb.gen == gen && r.cb.flags&FlagSocketOpened != 0
}

// peerClosed records an orderly close by the peer.
func (r *receiver) peerClosed(gen uint64, got, length int) error {
	if !r.cb.markBroken(gen) {
		return ErrNotConnected
	}
	r.cb.notify(core.EventPeerClosed)
	if length > 0 {
		return fmt.Errorf("%w: %d of %d body bytes", ErrPeerClosed, got, length)
	}
	return ErrPeerClosed
}

// surface reports a hard read error. A socket that was torn down or lost
// underneath the read, including one shut down locally, is reported as not
// connected.
func (r *receiver) surface(gen uint64, err error) error {
	if !r.cb.healthy(gen) {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return fmt.Errorf("receive: %w", err)
}
