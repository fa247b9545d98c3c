package core

import (
	"bytes"
	"testing"
)

// TestMessageBufferChain tests that appended chunks reassemble in order.
func TestMessageBufferChain(t *testing.T) {
	for _, debug := range []bool{true, false} {
		t.Run("DebugMode="+boolToString(debug), func(t *testing.T) {
			SetDebugMode(debug)
			defer SetDebugMode(false)

			b := NewChunkedBuffer(nil)
			b.Append([]byte{0x01, 0x02})
			b.Append(nil)
			b.Append([]byte{0x03})
			b.Append([]byte{0x04, 0x05, 0x06})

			if b.Len() != 6 {
				t.Errorf("Expected length 6, got %d", b.Len())
			}
			if len(b.Chunks()) != 3 {
				t.Errorf("Expected 3 chunks, got %d", len(b.Chunks()))
			}
			want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
			if got := b.Bytes(); !bytes.Equal(got, want) {
				t.Errorf("Expected %v, got %v", want, got)
			}
			if len(b.Chunks()) != 1 {
				t.Errorf("Expected flattened buffer to hold 1 chunk, got %d", len(b.Chunks()))
			}
		})
	}
}

// TestMessageBufferDebugCopy tests that debug mode hands out copies.
func TestMessageBufferDebugCopy(t *testing.T) {
	SetDebugMode(true)
	defer SetDebugMode(false)

	b := NewMessageBuffer([]byte{0x01, 0x02, 0x03})
	data := b.Bytes()
	data[0] = 0xFF
	if b.Bytes()[0] == 0xFF {
		t.Error("Bytes() did not return a copy in debug mode")
	}
}

// TestMessageBufferPrepend tests header prepend and first byte access.
func TestMessageBufferPrepend(t *testing.T) {
	b := NewMessageBuffer([]byte{0xAA, 0xBB})
	b.Prepend([]byte{0x00, 0x00, 0x00, 0x02})

	first, ok := b.FirstByte()
	if !ok || first != 0x00 {
		t.Errorf("Expected first byte 0x00, got 0x%02x (ok=%v)", first, ok)
	}

	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if n != 6 || !bytes.Equal(out.Bytes(), []byte{0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB}) {
		t.Errorf("Unexpected output %v (n=%d)", out.Bytes(), n)
	}
}

// TestMessageBufferRelease tests that pooled chunks go back exactly once.
func TestMessageBufferRelease(t *testing.T) {
	var released int
	b := NewChunkedBuffer(func([]byte) { released++ })
	b.Append([]byte{0x01})
	b.Append([]byte{0x02})

	b.Release()
	b.Release()

	if released != 2 {
		t.Errorf("Expected 2 releases, got %d", released)
	}
	if !b.Released() || b.Len() != 0 {
		t.Errorf("Expected empty released buffer, len=%d", b.Len())
	}

	// Flattening releases the pooled chunks early; Release must not repeat it.
	released = 0
	b = NewChunkedBuffer(func([]byte) { released++ })
	b.Append([]byte{0x01})
	b.Append([]byte{0x02})
	_ = b.Bytes()
	b.Release()
	if released != 2 {
		t.Errorf("Expected 2 releases after flatten, got %d", released)
	}
}

// TestEmptyMessageBuffer tests nil and empty messages.
func TestEmptyMessageBuffer(t *testing.T) {
	b := NewMessageBuffer(nil)
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got length %d", b.Len())
	}
	if data := b.Bytes(); data == nil || len(data) != 0 {
		t.Errorf("Expected empty data, got %v", data)
	}
	if _, ok := b.FirstByte(); ok {
		t.Error("Expected no first byte on empty buffer")
	}
}

// Helper function to convert bool to string
func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
