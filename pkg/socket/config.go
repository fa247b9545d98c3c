package socket

import (
	"time"

	"github.com/irctrakz/nbtransport/pkg/core"
)

// PollSlice is how often a pending connect checks for interruption.
const PollSlice = 2 * time.Second

// DialOptions controls how a transport socket is opened and configured.
type DialOptions struct {
	// ConnectTimeout bounds the TCP handshake. Zero leaves it to the kernel.
	ConnectTimeout time.Duration

	// KeepAlivePeriod is the TCP keepalive interval. Negative disables keepalive.
	KeepAlivePeriod time.Duration

	// SendTimeout bounds how long sent data may stay unacknowledged before
	// the kernel fails the socket. No receive timeout is ever set; readers
	// manage their own stall budget.
	SendTimeout time.Duration

	// SendBufferSize and RecvBufferSize size the socket buffers (0 = kernel default).
	SendBufferSize int
	RecvBufferSize int

	// QoS is the IP TOS / IPv6 traffic class (0 = leave unset).
	QoS int

	// BoundInterface pins outgoing traffic to an interface index (0 = any).
	BoundInterface int

	// OnOpen is called once the socket exists, before it is configured or
	// connected. OnAbort is called if the dial fails after OnOpen.
	OnOpen  func()
	OnAbort func()

	// Interrupt is polled every PollSlice while connecting; returning true
	// abandons the connect.
	Interrupt func() bool

	// Shutdown, when closed, abandons any pending connect.
	Shutdown <-chan struct{}
}

// OptionsFromConfig derives dial options from a transport configuration.
func OptionsFromConfig(cfg core.TransportConfig) DialOptions {
	return DialOptions{
		ConnectTimeout:  cfg.ConnectTimeout,
		KeepAlivePeriod: cfg.KeepAlivePeriod,
		SendTimeout:     cfg.SendTimeout,
		SendBufferSize:  cfg.SendBufferSize,
		RecvBufferSize:  cfg.RecvBufferSize,
		QoS:             cfg.QoS,
	}
}
