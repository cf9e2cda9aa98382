package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool provides reusable frame buffers of a fixed size, normally the
// channel's maximum message size. Readers of several connections share one
// pool so idle connections do not each pin a buffer.
type Pool struct {
	pool      sync.Pool
	bufSize   int
	allocated atomic.Int64
}

// New creates a new buffer pool that returns buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		p.allocated.Add(1)
		return make([]byte, bufSize)
	}
	return p
}

// Get returns a buffer of exactly bufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		p.allocated.Add(1)
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer obtained from Get. Buffers smaller than bufSize are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// Allocated returns how many buffers the pool has allocated so far.
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}
