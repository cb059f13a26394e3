package frame

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAllocation indicates a pixel buffer or pool could not be allocated.
// It is fatal to pipeline preparation.
var ErrAllocation = errors.New("buffer allocation failed")

// PixelBuffer is one physical pixel buffer as handed out by an Allocator.
//
// Its pointer identity is meaningful: two frame.Buffers alias the same
// physical storage exactly when they share a *PixelBuffer, which is what
// the output synchronization handler relies on.
type PixelBuffer struct {
	// Data holds the raw pixel bytes, Info.ByteSize() long.
	Data []byte
	// Info describes geometry and format of the stored frame.
	Info Info

	mu        sync.Mutex
	locked    bool
	bytesUsed int
}

// Lock marks the buffer mapped for CPU access. Locking an already locked
// buffer is a no-op.
func (p *PixelBuffer) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
}

// Unlock releases the CPU mapping.
func (p *PixelBuffer) Unlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
}

// IsLocked reports whether the buffer is currently mapped.
func (p *PixelBuffer) IsLocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// BytesUsed returns the number of valid bytes in Data. It is the full
// buffer size unless an encoder recorded a smaller payload.
func (p *PixelBuffer) BytesUsed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bytesUsed > 0 {
		return p.bytesUsed
	}
	return len(p.Data)
}

// SetBytesUsed records the valid payload length, set by encode kernels.
func (p *PixelBuffer) SetBytesUsed(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytesUsed = n
}

// Allocator provides physical pixel buffers. The production system backs
// this with a gralloc/DMA allocator; tests and software pipelines use
// HeapAllocator.
type Allocator interface {
	// Allocate returns a new pixel buffer for the given geometry.
	Allocate(info Info) (*PixelBuffer, error)
}

// HeapAllocator allocates pixel buffers from the Go heap.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(info Info) (*PixelBuffer, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "HeapAllocator.Allocate",
		"width":    info.Width,
		"height":   info.Height,
		"format":   info.Format.String(),
		"size":     info.ByteSize(),
	}).Debug("Allocating heap pixel buffer")

	return &PixelBuffer{
		Data: make([]byte, info.ByteSize()),
		Info: info,
	}, nil
}
