package protocol

import "sync"

// FramePool recycles frame assembly buffers so a fast BLE stream does not
// allocate a fresh scratch buffer per frame.
//
// Buffers handed out by Get must not be retained after Put; the reassembler
// copies completed frames out before returning the buffer.
type FramePool struct {
	size int
	pool sync.Pool
}

// NewFramePool creates a pool of buffers able to hold frames up to size bytes.
func NewFramePool(size int) *FramePool {
	p := &FramePool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the capacity of pooled buffers.
func (p *FramePool) Size() int {
	return p.size
}

// Get returns a buffer of length n. n must not exceed Size.
func (p *FramePool) Get(n int) []byte {
	buf := *(p.pool.Get().(*[]byte))
	if cap(buf) < n {
		buf = make([]byte, p.size)
	}
	return buf[:n]
}

// Put returns buf to the pool. Buffers of a foreign capacity are dropped.
func (p *FramePool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}
