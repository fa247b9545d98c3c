package transport

import "sync"

// Receive chunk pools. Body chunks are taken from the smallest class that
// fits and returned through the MessageBuffer releaser; only buffers whose
// capacity matches a class go back.

const (
	chunkSmall = 8 * 1024
	chunkMed   = 16 * 1024
	chunkLarge = 32 * 1024
	chunkXL    = 64 * 1024
)

var (
	poolSmall = sync.Pool{New: func() any { b := make([]byte, chunkSmall); return &b }}
	poolMed   = sync.Pool{New: func() any { b := make([]byte, chunkMed); return &b }}
	poolLarge = sync.Pool{New: func() any { b := make([]byte, chunkLarge); return &b }}
	poolXL    = sync.Pool{New: func() any { b := make([]byte, chunkXL); return &b }}
)

func chunkGet(n int) []byte {
	switch {
	case n <= chunkSmall:
		p := poolSmall.Get().(*[]byte)
		return (*p)[:n]
	case n <= chunkMed:
		p := poolMed.Get().(*[]byte)
		return (*p)[:n]
	case n <= chunkLarge:
		p := poolLarge.Get().(*[]byte)
		return (*p)[:n]
	case n <= chunkXL:
		p := poolXL.Get().(*[]byte)
		return (*p)[:n]
	default:
		return make([]byte, n)
	}
}

func chunkPut(b []byte) {
	switch cap(b) {
	case chunkSmall:
		bb := b[:chunkSmall]
		poolSmall.Put(&bb)
	case chunkMed:
		bb := b[:chunkMed]
		poolMed.Put(&bb)
	case chunkLarge:
		bb := b[:chunkLarge]
		poolLarge.Put(&bb)
	case chunkXL:
		bb := b[:chunkXL]
		poolXL.Put(&bb)
	}
}
