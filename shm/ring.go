package shm

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// RingHeaderSize is the size of the cursor block at the start of every ring.
const RingHeaderSize = 8

// Ring is a single-producer, single-consumer byte queue laid over shared
// memory:
//
//	[0:4]  head, consumer cursor
//	[4:8]  tail, producer cursor
//	[8:]   data, power-of-two sized
//
// Cursors are free running and masked on access. Each cursor has exactly one
// writer; the other side only loads it. Stores publish with release
// semantics and loads observe with acquire semantics (sync/atomic), so the
// peer never sees a cursor move before the bytes it covers.
type Ring struct {
	head *uint32
	tail *uint32
	data []byte
	mask uint32
}

// RingSize is the number of region bytes a ring of the given capacity needs.
func RingSize(capacity int) int {
	return RingHeaderSize + capacity
}

// NewRing lays a ring over mem. len(mem)-RingHeaderSize must be a power of
// two and mem must be 4-byte aligned. The cursors are left as found; call
// Reset when the memory is first set up.
func NewRing(mem []byte) (*Ring, error) {
	if len(mem) <= RingHeaderSize {
		return nil, errors.Errorf("ring memory too small: %d", len(mem))
	}
	capacity := len(mem) - RingHeaderSize
	if capacity&(capacity-1) != 0 {
		return nil, errors.Errorf("ring capacity %d is not a power of two", capacity)
	}
	if capacity > 1<<30 {
		return nil, errors.Errorf("ring capacity %d too large", capacity)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, errors.New("ring memory is not 4-byte aligned")
	}

	return &Ring{
		head: (*uint32)(unsafe.Pointer(&mem[0])),
		tail: (*uint32)(unsafe.Pointer(&mem[4])),
		data: mem[RingHeaderSize:],
		mask: uint32(capacity - 1),
	}, nil
}

// Reset empties the ring. Only valid while neither side is running.
func (r *Ring) Reset() {
	atomic.StoreUint32(r.head, 0)
	atomic.StoreUint32(r.tail, 0)
}

// Cap returns the data capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.data)
}

// Len returns the number of unread bytes.
func (r *Ring) Len() int {
	return int(atomic.LoadUint32(r.tail) - atomic.LoadUint32(r.head))
}

// Free returns the number of bytes that can be written.
func (r *Ring) Free() int {
	return r.Cap() - r.Len()
}

// TryWrite appends p if the whole of it fits; otherwise nothing is written.
// Producer side only.
func (r *Ring) TryWrite(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	if len(p) > len(r.data) {
		return false
	}

	tail := atomic.LoadUint32(r.tail)
	head := atomic.LoadUint32(r.head)
	if len(r.data)-int(tail-head) < len(p) {
		return false
	}

	pos := int(tail & r.mask)
	n := copy(r.data[pos:], p)
	if n < len(p) {
		copy(r.data, p[n:])
	}

	atomic.StoreUint32(r.tail, tail+uint32(len(p)))
	return true
}

// ReadInto moves up to len(p) bytes into p and returns the count.
// Consumer side only.
func (r *Ring) ReadInto(p []byte) int {
	head := atomic.LoadUint32(r.head)
	tail := atomic.LoadUint32(r.tail)

	avail := int(tail - head)
	if avail == 0 || len(p) == 0 {
		return 0
	}
	if avail > len(p) {
		avail = len(p)
	}

	pos := int(head & r.mask)
	n := copy(p[:avail], r.data[pos:])
	if n < avail {
		copy(p[n:avail], r.data)
	}

	atomic.StoreUint32(r.head, head+uint32(avail))
	return avail
}

// TryRead returns up to max unread bytes, or false when the ring is empty.
// Consumer side only.
func (r *Ring) TryRead(max int) ([]byte, bool) {
	n := r.Len()
	if n == 0 || max <= 0 {
		return nil, false
	}
	if n > max {
		n = max
	}
	b := make([]byte, n)
	n = r.ReadInto(b)
	return b[:n], n > 0
}
