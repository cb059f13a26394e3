package frame

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool is a fixed-capacity pool of pre-allocated frame buffers.
//
// The pool never grows: a node with an internal pool has predictable
// memory use and latency, and exhaustion degrades to frame drop rather
// than allocation under load. Acquire is non-blocking; callers treat a
// failed acquire as buffer starvation, not as an error.
type Pool struct {
	mu   sync.Mutex
	free []*Buffer
	all  []*Buffer
	info Info
}

// NewPool pre-allocates capacity buffers of the given geometry and locks
// them for CPU access. It fails with ErrAllocation if any underlying
// allocation fails.
func NewPool(alloc Allocator, capacity int, info Info) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: invalid pool capacity %d", ErrAllocation, capacity)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPool",
		"capacity": capacity,
		"width":    info.Width,
		"height":   info.Height,
		"format":   info.Format.String(),
	}).Info("Creating buffer pool")

	p := &Pool{
		free: make([]*Buffer, 0, capacity),
		all:  make([]*Buffer, 0, capacity),
		info: info,
	}

	for i := 0; i < capacity; i++ {
		pix, err := alloc.Allocate(info)
		if err != nil {
			return nil, fmt.Errorf("pool slot %d: %w", i, err)
		}
		pix.Lock()
		buf := &Buffer{pix: pix, index: i, recycle: p.put}
		p.free = append(p.free, buf)
		p.all = append(p.all, buf)
	}

	return p, nil
}

// Acquire returns an available buffer with a fresh single reference, or
// false when the pool is exhausted.
func (p *Pool) Acquire() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, false
	}
	buf := p.free[0]
	p.free = p.free[1:]
	buf.pix.SetBytesUsed(0)
	buf.refs.Store(1)
	return buf, true
}

// put returns a buffer to the free list. Installed as the buffer's
// recycle hook, it runs when the last reference is released.
func (p *Pool) put(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
}

// Capacity returns the fixed pool size.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Available returns how many buffers can currently be acquired.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Info returns the geometry the pool's buffers were allocated with.
func (p *Pool) Info() Info {
	return p.info
}

// UnlockAll releases the CPU mapping of every pooled buffer. Called when
// the owning node stops.
func (p *Pool) UnlockAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, buf := range p.all {
		if buf.pix.IsLocked() {
			buf.pix.Unlock()
		}
	}
}
