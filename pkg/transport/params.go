package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/socket"
)

// GetParam returns the current value of key.
//
//	ParamSendBufferSize, ParamRecvBufferSize  int
//	ParamTimeout                              time.Duration
//	ParamUpcall                               core.Upcall (nil if unset)
//	ParamQoS                                  int
//	ParamBoundInterface                       int (interface index, 0 = none)
func (t *NBT) GetParam(key core.Param) (any, error) {
	cb := t.cb.Load()
	if cb == nil {
		return nil, ErrNotConnected
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch key {
	case core.ParamSendBufferSize:
		return cb.sendBufSize, nil
	case core.ParamRecvBufferSize:
		return cb.recvBufSize, nil
	case core.ParamTimeout:
		return cb.timeout, nil
	case core.ParamUpcall:
		return cb.upcall, nil
	case core.ParamQoS:
		return cb.qos, nil
	case core.ParamBoundInterface:
		if cb.flags&FlagBoundToInterface == 0 {
			return 0, nil
		}
		return cb.boundIf, nil
	}
	return nil, fmt.Errorf("%w: unknown parameter %d", ErrInvalidArgument, int(key))
}

// SetParam changes key. Buffer sizes and QoS apply to the open socket as
// well as future ones; the bound interface applies from the next Connect.
// ParamBoundInterface accepts an index or an interface name.
func (t *NBT) SetParam(key core.Param, value any) error {
	cb := t.cb.Load()
	if cb == nil {
		return ErrNotConnected
	}
	bad := func() error {
		return fmt.Errorf("%w: %s does not accept %T(%v)", ErrInvalidArgument, key, value, value)
	}

	switch key {
	case core.ParamSendBufferSize, core.ParamRecvBufferSize:
		size, ok := value.(int)
		if !ok || size <= 0 {
			return bad()
		}
		cb.mu.Lock()
		conn := cb.conn
		if key == core.ParamSendBufferSize {
			cb.sendBufSize = size
		} else {
			cb.recvBufSize = size
			cb.chunkSize = core.ClampChunkSize(cb.cfgChunk, size)
		}
		cb.mu.Unlock()
		if conn == nil {
			return nil
		}
		var err error
		if key == core.ParamSendBufferSize {
			err = conn.SetWriteBuffer(size)
		} else {
			err = conn.SetReadBuffer(size)
		}
		if err != nil {
			logging.Debugf("nbt: apply %s=%d: %v", key, size, err)
		}
		return nil

	case core.ParamTimeout:
		d, ok := value.(time.Duration)
		if !ok || d <= 0 {
			return bad()
		}
		cb.mu.Lock()
		cb.timeout = d
		cb.mu.Unlock()
		return nil

	case core.ParamUpcall:
		up, ok := value.(core.Upcall)
		if value != nil && !ok {
			return bad()
		}
		cb.mu.Lock()
		cb.upcall = up
		cb.mu.Unlock()
		return nil

	case core.ParamQoS:
		qos, ok := value.(int)
		if !ok || qos < 0 || qos > 0xFF {
			return bad()
		}
		cb.mu.Lock()
		cb.qos = qos
		conn := cb.conn
		cb.mu.Unlock()
		if conn != nil {
			if err := socket.SetQoS(conn, qos); err != nil {
				return fmt.Errorf("set qos: %w", err)
			}
		}
		return nil

	case core.ParamBoundInterface:
		var index int
		switch v := value.(type) {
		case int:
			index = v
		case string:
			if v != "" {
				ifi, err := net.InterfaceByName(v)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
				}
				index = ifi.Index
			}
		default:
			return bad()
		}
		if index < 0 {
			return bad()
		}
		cb.mu.Lock()
		cb.boundIf = index
		if index > 0 {
			cb.flags |= FlagBoundToInterface
		} else {
			cb.flags &^= FlagBoundToInterface
		}
		cb.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: unknown parameter %d", ErrInvalidArgument, int(key))
}
