// Package dma models the descriptor rings shared between an Ethernet MAC's
// DMA engine and the driver that feeds it.
//
// Each ring is an arena of fixed-size buffer slots, one per descriptor.
// A descriptor carries an ownership flag: software may only touch a slot's
// payload while it owns the descriptor, and handing the descriptor to the
// DMA is the only way to make the slot eligible for a new transfer.
// Ownership flags are accessed atomically so the driver and the engine may
// run on different goroutines (or in interrupt context on TinyGo targets).
package dma

import (
	"errors"
	"sync/atomic"
)

var (
	ErrBadLength  = errors.New("dma: frame length exceeds ring bounds")
	ErrOwnedByDMA = errors.New("dma: descriptor owned by DMA")
	errBadRing    = errors.New("dma: ring needs at least one buffer and equal sized buffers")
	errNotInit    = errors.New("dma: ring not initialized")
)

// Owner is the ownership state of a descriptor.
type Owner uint32

const (
	OwnedBySoftware Owner = iota // software
	OwnedByDMA                   // dma
)

func (o Owner) String() string {
	if o == OwnedByDMA {
		return "dma"
	}
	return "software"
}

// Flags are the segment flags of a descriptor.
type Flags uint8

const (
	// FlagFirst marks the descriptor holding the first segment of a frame.
	FlagFirst Flags = 1 << iota
	// FlagLast marks the descriptor holding the last segment of a frame.
	FlagLast
)

// Descriptor is the metadata record of one buffer slot. Fields other than
// the ownership flag belong to whoever currently owns the descriptor.
type Descriptor struct {
	own   atomic.Uint32
	flags Flags
	// length is the byte count written to the slot on TX. On RX the
	// descriptor with FlagLast holds the total frame length.
	length int
}

// Ring is a fixed-capacity circular sequence of descriptors, each bound 1:1
// to a buffer slot. Wrap-around is modulo the descriptor count.
type Ring struct {
	desc    []Descriptor
	bufs    [][]byte
	bufSize int
	// cur is the software cursor: next descriptor to scan on RX, next
	// descriptor to fill on TX.
	cur int
}

// MakeBuffers allocates n buffer slots of size bytes each out of a single
// contiguous backing array.
func MakeBuffers(n, size int) [][]byte {
	backing := make([]byte, n*size)
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = backing[i*size : (i+1)*size : (i+1)*size]
	}
	return bufs
}

// Init binds each descriptor to its buffer slot, sets every descriptor to
// owner and resets the cursor. All buffers must be of equal, non-zero length.
func (r *Ring) Init(buffers [][]byte, owner Owner) error {
	if len(buffers) == 0 || len(buffers[0]) == 0 {
		return errBadRing
	}
	size := len(buffers[0])
	for _, b := range buffers {
		if len(b) != size {
			return errBadRing
		}
	}
	r.desc = make([]Descriptor, len(buffers))
	r.bufs = buffers
	r.bufSize = size
	r.cur = 0
	for i := range r.desc {
		r.desc[i].own.Store(uint32(owner))
	}
	return nil
}

// Len returns the number of descriptors in the ring.
func (r *Ring) Len() int { return len(r.desc) }

// BufferSize returns the fixed capacity of a single slot.
func (r *Ring) BufferSize() int { return r.bufSize }

// Capacity returns the total number of payload bytes the ring can hold.
func (r *Ring) Capacity() int { return len(r.desc) * r.bufSize }

// Cursor returns the index of the software cursor.
func (r *Ring) Cursor() int { return r.cur }

// Next returns the index following i in ring order.
func (r *Ring) Next(i int) int {
	i++
	if i == len(r.desc) {
		return 0
	}
	return i
}

// Owner returns the owner of descriptor i.
func (r *Ring) Owner(i int) Owner { return Owner(r.desc[i].own.Load()) }

// SetOwner transfers descriptor i to owner.
func (r *Ring) SetOwner(i int, owner Owner) { r.desc[i].own.Store(uint32(owner)) }

// Buffer returns the slot bound to descriptor i. Callers must own the descriptor.
func (r *Ring) Buffer(i int) []byte { return r.bufs[i] }

// Status returns the segment flags and length of descriptor i.
func (r *Ring) Status(i int) (Flags, int) { return r.desc[i].flags, r.desc[i].length }

// SetStatus writes the segment flags and length of descriptor i.
func (r *Ring) SetStatus(i int, flags Flags, length int) {
	r.desc[i].flags = flags
	r.desc[i].length = length
}

// SlotsFor returns how many slots a frame of length bytes spans. A zero
// length frame still occupies one slot.
func (r *Ring) SlotsFor(length int) int {
	if length <= 0 {
		return 1
	}
	return (length + r.bufSize - 1) / r.bufSize
}

// OwnedCount returns how many descriptors are currently owned by owner.
func (r *Ring) OwnedCount(owner Owner) (n int) {
	for i := range r.desc {
		if r.Owner(i) == owner {
			n++
		}
	}
	return n
}
