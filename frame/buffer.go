package frame

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Buffer is a reference-counted wrapper around one pixel buffer plus its
// destination stream identity. It is the unit of flow through the
// pipeline graph.
//
// A Buffer starts with one reference held by its creator. Every stage
// that keeps the buffer beyond the scope of a call must Retain it and
// Release it when done. When the count reaches zero the buffer is
// recycled to its pool, if it came from one.
//
// Invariant: at most one processing node holds a Buffer in flight as its
// current input or current output at any instant.
type Buffer struct {
	pix      *PixelBuffer
	index    int
	streamID uuid.UUID

	refs    atomic.Int32
	recycle func(*Buffer)
}

// NewBuffer wraps an externally owned pixel buffer. The returned buffer
// has a reference count of one and is never recycled to a pool.
func NewBuffer(pix *PixelBuffer) *Buffer {
	b := &Buffer{pix: pix, index: -1}
	b.refs.Store(1)
	return b
}

// NewStreamBuffer wraps an externally supplied destination buffer bound
// to the output stream identified by id.
func NewStreamBuffer(pix *PixelBuffer, id uuid.UUID) *Buffer {
	b := NewBuffer(pix)
	b.streamID = id
	return b
}

// Pixels returns the shared physical pixel buffer.
func (b *Buffer) Pixels() *PixelBuffer {
	return b.pix
}

// Index returns the buffer's slot index within its pool, or -1 for
// externally supplied buffers.
func (b *Buffer) Index() int {
	return b.index
}

// StreamID returns the identity of the output stream this buffer is
// destined for, or uuid.Nil for internal buffers.
func (b *Buffer) StreamID() uuid.UUID {
	return b.streamID
}

// Retain adds a reference and returns the buffer for chaining.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops one reference. The last release recycles the buffer to
// its owning pool. Releasing below zero indicates a bookkeeping bug and
// is logged rather than tolerated silently.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Buffer.Release",
			"index":    b.index,
			"refs":     n,
		}).Error("Buffer released more times than retained")
		return
	}
	if n == 0 && b.recycle != nil {
		b.recycle(b)
	}
}
