// Package pbuf implements chained packet buffers: a logical byte sequence
// stored as a singly linked list of independently owned segments, along
// with a fixed-size segment pool to allocate them from.
package pbuf

import (
	"errors"
	"sync"
)

var (
	// ErrNoMemory is returned when the pool cannot satisfy an allocation.
	ErrNoMemory   = errors.New("pbuf: out of memory")
	errZeroLength = errors.New("pbuf: zero length allocation")
	errBadPool    = errors.New("pbuf: pool segment size and count must be positive")
)

// Buf is one segment of a chained packet buffer.
type Buf struct {
	// Payload holds the segment's bytes. len(Payload) is the segment length.
	Payload []byte
	// Next is the following segment or nil for the last one.
	Next *Buf
	// backing is the full pool slot Payload was carved from.
	backing []byte
}

// Len returns the total length of the chain starting at b.
func (b *Buf) Len() (n int) {
	for ; b != nil; b = b.Next {
		n += len(b.Payload)
	}
	return n
}

// Segments returns the number of segments in the chain starting at b.
func (b *Buf) Segments() (n int) {
	for ; b != nil; b = b.Next {
		n++
	}
	return n
}

// AppendTo appends the contents of the chain to dst and returns the result.
func (b *Buf) AppendTo(dst []byte) []byte {
	for ; b != nil; b = b.Next {
		dst = append(dst, b.Payload...)
	}
	return dst
}

// CopyTo copies the chain into dst and returns the number of bytes copied.
func (b *Buf) CopyTo(dst []byte) (n int) {
	for ; b != nil && n < len(dst); b = b.Next {
		n += copy(dst[n:], b.Payload)
	}
	return n
}

// Chain splits data into a chain of segments of at most segSize bytes. The
// segments alias data. A segSize <= 0 yields a single segment.
func Chain(data []byte, segSize int) *Buf {
	if segSize <= 0 || segSize >= len(data) {
		return &Buf{Payload: data}
	}
	var head, tail *Buf
	for len(data) > 0 {
		n := min(segSize, len(data))
		seg := &Buf{Payload: data[:n:n]}
		data = data[n:]
		if head == nil {
			head = seg
		} else {
			tail.Next = seg
		}
		tail = seg
	}
	return head
}

// Pool allocates chains out of a bounded set of fixed-size segments, the
// way a packet buffer pool on a microcontroller does. A chain is only
// allocated when enough segments are free for the whole length. The zero
// value is not usable; set SegmentSize and Segments before first use.
type Pool struct {
	// SegmentSize is the capacity of a single segment.
	SegmentSize int
	// Segments is the total number of segments the pool may hand out.
	Segments int

	mu    sync.Mutex
	free  []*Buf
	inuse int
	init  bool
}

func (p *Pool) lazyInit() error {
	if p.init {
		return nil
	}
	if p.SegmentSize <= 0 || p.Segments <= 0 {
		return errBadPool
	}
	backing := make([]byte, p.SegmentSize*p.Segments)
	segs := make([]Buf, p.Segments)
	p.free = make([]*Buf, p.Segments)
	for i := range segs {
		slot := backing[i*p.SegmentSize : (i+1)*p.SegmentSize : (i+1)*p.SegmentSize]
		segs[i].backing = slot
		p.free[i] = &segs[i]
	}
	p.init = true
	return nil
}

// Alloc returns a chain with a total length of n bytes made of as many
// segments as needed. Every segment but the last is full.
func (p *Pool) Alloc(n int) (*Buf, error) {
	if n <= 0 {
		return nil, errZeroLength
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lazyInit(); err != nil {
		return nil, err
	}
	need := (n + p.SegmentSize - 1) / p.SegmentSize
	if need > len(p.free) {
		return nil, ErrNoMemory
	}
	var head, tail *Buf
	for range need {
		last := len(p.free) - 1
		seg := p.free[last]
		p.free = p.free[:last]
		size := min(n, p.SegmentSize)
		seg.Payload = seg.backing[:size]
		seg.Next = nil
		n -= size
		if head == nil {
			head = seg
		} else {
			tail.Next = seg
		}
		tail = seg
	}
	p.inuse += need
	return head, nil
}

// Free returns every segment of the chain to the pool. Segments not
// allocated by the pool are ignored.
func (p *Pool) Free(b *Buf) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for b != nil {
		next := b.Next
		if b.backing != nil {
			b.Payload = nil
			b.Next = nil
			p.free = append(p.free, b)
			p.inuse--
		}
		b = next
	}
}

// InUse returns the number of segments currently allocated.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inuse
}
