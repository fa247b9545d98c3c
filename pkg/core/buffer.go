package core

import (
	"io"
	"net"
	"sync/atomic"
)

// Global debug flag that can be set via configuration
var debugMode uint32

// SetDebugMode sets the global debug mode flag
// When debug mode is enabled, flattened message data is copied for safety
// When disabled, a single-chunk message hands out its chunk directly
func SetDebugMode(enabled bool) {
	if enabled {
		atomic.StoreUint32(&debugMode, 1)
	} else {
		atomic.StoreUint32(&debugMode, 0)
	}
}

// IsDebugMode returns whether debug mode is enabled
func IsDebugMode() bool {
	return atomic.LoadUint32(&debugMode) == 1
}

// MessageBuffer is an owned message made of a chain of chunks. Appending a
// chunk never copies or reallocates earlier chunks; the message is flattened
// only when a contiguous view is requested.
//
// Chunks may come from a pool. When the owner is done with the message,
// Release returns them through the releaser supplied at construction.
type MessageBuffer struct {
	chunks   [][]byte
	length   int
	releaser func([]byte)
	released bool
}

// NewMessageBuffer wraps data as a single-chunk message.
// Do not mutate data after passing it in.
func NewMessageBuffer(data []byte) *MessageBuffer {
	b := &MessageBuffer{}
	if len(data) > 0 {
		b.Append(data)
	}
	return b
}

// NewChunkedBuffer creates an empty message whose chunks are returned to
// releaser on Release. The releaser may be nil.
func NewChunkedBuffer(releaser func([]byte)) *MessageBuffer {
	return &MessageBuffer{releaser: releaser}
}

// Append adds chunk to the end of the message.
func (b *MessageBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.length += len(chunk)
}

// Prepend adds chunk in front of the message. Used for frame headers.
func (b *MessageBuffer) Prepend(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append([][]byte{chunk}, b.chunks...)
	b.length += len(chunk)
}

// Len returns the total message length.
func (b *MessageBuffer) Len() int {
	if b == nil {
		return 0
	}
	return b.length
}

// Chunks returns the chain. The slices must not be modified.
func (b *MessageBuffer) Chunks() [][]byte {
	return b.chunks
}

// FirstByte returns the first byte of the message, if any.
func (b *MessageBuffer) FirstByte() (byte, bool) {
	if b == nil || b.length == 0 {
		return 0, false
	}
	return b.chunks[0][0], true
}

// Bytes returns the message as one contiguous slice. A multi-chunk message is
// flattened once and the pooled chunks are released immediately.
func (b *MessageBuffer) Bytes() []byte {
	if b == nil || b.length == 0 {
		return []byte{}
	}
	if len(b.chunks) > 1 {
		flat := make([]byte, 0, b.length)
		for _, c := range b.chunks {
			flat = append(flat, c...)
		}
		b.releaseChunks()
		b.chunks = [][]byte{flat}
	}
	if IsDebugMode() {
		return append([]byte(nil), b.chunks[0]...)
	}
	return b.chunks[0]
}

// WriteTo writes the chain to w, using vectored I/O when w is a socket.
func (b *MessageBuffer) WriteTo(w io.Writer) (int64, error) {
	bufs := make(net.Buffers, len(b.chunks))
	copy(bufs, b.chunks)
	return bufs.WriteTo(w)
}

// Release returns pooled chunks and empties the message. It is safe to call
// more than once.
func (b *MessageBuffer) Release() {
	if b == nil {
		return
	}
	b.releaseChunks()
	b.chunks = nil
	b.length = 0
	b.released = true
}

// Released reports whether the message has been emptied by Release.
func (b *MessageBuffer) Released() bool { return b.released }

func (b *MessageBuffer) releaseChunks() {
	if b.releaser != nil {
		for _, c := range b.chunks {
			b.releaser(c)
		}
		// flattened data is not pool-owned
		b.releaser = nil
	}
}
