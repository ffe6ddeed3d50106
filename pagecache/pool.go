package pagecache

import "sync"

// DefaultPoolCapacity bounds how many free buffers the pool retains in total.
const DefaultPoolCapacity = 10

type shape struct {
	width  int
	height int
	format Format
}

// BufferPool is a free list of not-currently-referenced buffers, keyed by
// (width, height, format). It exists to absorb allocation churn from pages
// being re-rendered at the same resolution during scrolling.
//
// Safe for concurrent use.
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	count    int
	free     map[shape][]*Buffer
}

// NewBufferPool creates a pool retaining at most capacity buffers.
// capacity <= 0 selects DefaultPoolCapacity.
func NewBufferPool(capacity int) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &BufferPool{
		capacity: capacity,
		free:     make(map[shape][]*Buffer),
	}
}

// Get hands out a buffer of the requested shape, reusing a pooled one when
// available. Reused buffers are zeroed. The buffer is caller-owned until
// returned via Put or dropped.
func (p *BufferPool) Get(width, height int, format Format) *Buffer {
	s := shape{width, height, format}

	p.mu.Lock()
	if list := p.free[s]; len(list) > 0 {
		buf := list[len(list)-1]
		p.free[s] = list[:len(list)-1]
		p.count--
		p.mu.Unlock()
		clear(buf.Pix)
		return buf
	}
	p.mu.Unlock()

	return NewBuffer(width, height, format)
}

// Put returns a buffer to the free list. When the pool is at capacity the
// buffer is dropped for the garbage collector instead of retained.
func (p *BufferPool) Put(buf *Buffer) {
	if buf == nil || len(buf.Pix) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= p.capacity {
		return
	}
	s := shape{buf.Width, buf.Height, buf.Format}
	p.free[s] = append(p.free[s], buf)
	p.count++
}

// Len reports how many buffers are currently pooled.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
