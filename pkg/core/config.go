package core

import "time"

// Default transport tunables.
const (
	DefaultSendBufferSize  = 2 * 1024 * 1024
	DefaultRecvBufferSize  = 2 * 1024 * 1024
	DefaultRecvChunkSize   = 64 * 1024
	MinRecvChunkSize       = 8 * 1024
	DefaultTimeout         = 30 * time.Second
	DefaultSendTimeout     = 30 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
	DefaultKeepAlivePeriod = 30 * time.Second
	DefaultStallTimeout    = 15 * time.Second
	DefaultMaxRetargets    = 8
)

// TransportConfig contains configuration for a NetBIOS session transport.
// It is consumed once when the transport is created and never mutated.
type TransportConfig struct {
	// SendBufferSize is the socket send buffer size in bytes.
	SendBufferSize int `json:"send_buffer_size" yaml:"sendBufferSize"`

	// RecvBufferSize is the socket receive buffer size in bytes.
	RecvBufferSize int `json:"recv_buffer_size" yaml:"recvBufferSize"`

	// RecvChunkSize caps a single socket read while reassembling a message body.
	RecvChunkSize int `json:"recv_chunk_size" yaml:"recvChunkSize"`

	// DefaultTimeout is the floor for the adaptive request/reconnect timeout.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"defaultTimeout"`

	// SendTimeout bounds a stalled send.
	SendTimeout time.Duration `json:"send_timeout" yaml:"sendTimeout"`

	// ConnectTimeout bounds the TCP handshake. Zero leaves it to the kernel.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connectTimeout"`

	// KeepAlivePeriod is the TCP keepalive interval.
	KeepAlivePeriod time.Duration `json:"keepalive_period" yaml:"keepAlivePeriod"`

	// StallTimeout is how long a body read may make no progress.
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stallTimeout"`

	// MaxRetargets caps the number of session retarget hops per connect.
	MaxRetargets int `json:"max_retargets" yaml:"maxRetargets"`

	// QoS is the initial IP TOS / traffic class for new sockets.
	QoS int `json:"qos" yaml:"qos"`
}

// DefaultTransportConfig returns the default transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SendBufferSize:  DefaultSendBufferSize,
		RecvBufferSize:  DefaultRecvBufferSize,
		RecvChunkSize:   DefaultRecvChunkSize,
		DefaultTimeout:  DefaultTimeout,
		SendTimeout:     DefaultSendTimeout,
		ConnectTimeout:  DefaultConnectTimeout,
		KeepAlivePeriod: DefaultKeepAlivePeriod,
		StallTimeout:    DefaultStallTimeout,
		MaxRetargets:    DefaultMaxRetargets,
	}
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c TransportConfig) WithDefaults() TransportConfig {
	d := DefaultTransportConfig()
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.RecvChunkSize <= 0 {
		c.RecvChunkSize = d.RecvChunkSize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.MaxRetargets <= 0 {
		c.MaxRetargets = d.MaxRetargets
	}
	return c
}

// ClampChunkSize returns the receive chunk size for the given configured chunk
// and receive buffer sizes. The chunk never exceeds the receive buffer, but the
// MinRecvChunkSize floor wins over a smaller receive buffer.
func ClampChunkSize(chunk, recvBuf int) int {
	if recvBuf > 0 && chunk > recvBuf {
		chunk = recvBuf
	}
	if chunk < MinRecvChunkSize {
		chunk = MinRecvChunkSize
	}
	return chunk
}
