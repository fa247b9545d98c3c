package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/obs"
)

// establishSession runs the session request exchange on the open socket.
// A retarget closes the socket and repeats the exchange against the new
// endpoint, up to MaxRetargets times.
func (t *NBT) establishSession(ctx context.Context, cb *controlBlock) error {
	for hops := 0; ; {
		cb.mu.Lock()
		conn, gen := cb.conn, cb.gen
		peer := cb.peer
		var calling []byte
		if cb.local != nil {
			calling = cb.local.Encoded
		}
		timeout := cb.timeout
		cb.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}
		if calling == nil {
			// Servers reject an empty calling name; send the wildcard.
			enc, err := nbt.EncodeName(nbt.FirstLevelWildcard())
			if err != nil {
				return err
			}
			calling = enc
		}

		req := nbt.BuildSessionRequest(peer.Encoded, calling)
		frame := core.NewMessageBuffer(req)
		frame.Prepend(nbt.EncodeHeader(nbt.TypeSessionRequest, uint32(len(req))))
		err := t.writeFrame(cb, conn, gen, frame)
		frame.Release()
		if err != nil {
			return err
		}
		cb.setState(StateSessionRequestSent)

		typ, resp, err := t.recv.receive(conn, gen, timeout)
		if err != nil {
			return err
		}
		body := resp.Bytes()

		switch typ {
		case nbt.TypePositiveResponse:
			resp.Release()
			cb.mu.Lock()
			cb.state = StateSession
			cb.flags |= FlagConnected
			cb.mu.Unlock()
			return nil

		case nbt.TypeRetargetResponse:
			ip, port, perr := nbt.ParseRetarget(body)
			resp.Release()
			if perr != nil {
				obs.ProtocolErrorsTotal.WithLabelValues("retarget").Inc()
				return fmt.Errorf("%w: %w", ErrConnAborted, perr)
			}
			cb.setState(StateRetargeted)
			hops++
			if hops > t.cfg.MaxRetargets {
				return fmt.Errorf("%w: gave up after %d hops", ErrRetargetLimit, t.cfg.MaxRetargets)
			}
			next := peer.Retarget(ip, port)
			logging.InfoWithFields(logrus.Fields{
				"peer":   peer.String(),
				"target": next.TCP.String(),
				"hop":    hops,
			}, "session retargeted")
			atomic.AddUint64(&t.metrics.Retargets, 1)
			obs.RetargetsTotal.Inc()

			cb.notify(core.EventRetargeted)
			t.teardown(cb, false)
			cb.mu.Lock()
			cb.peer = next
			cb.mu.Unlock()
			if err := t.open(ctx, cb); err != nil {
				return err
			}

		case nbt.TypeNegativeResponse:
			neg := nbt.ParseNegativeResponse(body)
			resp.Release()
			return fmt.Errorf("%w: %w", ErrConnAborted, neg)

		default:
			resp.Release()
			obs.ProtocolErrorsTotal.WithLabelValues("session_response").Inc()
			return fmt.Errorf("%w: unexpected %s in reply to session request", ErrConnAborted, typ)
		}
	}
}
