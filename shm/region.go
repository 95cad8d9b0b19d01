package shm

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Region is a block of memory visible to both cores. Rings are carved out of
// it at fixed offsets.
type Region struct {
	mem   []byte
	close func() error
}

// NewRegion allocates an 8-byte aligned region in process memory.
func NewRegion(size int) *Region {
	words := make([]uint64, (size+7)/8)
	var mem []byte
	if len(words) > 0 {
		mem = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	}
	return &Region{mem: mem}
}

// Size returns the region size in bytes.
func (r *Region) Size() int {
	return len(r.mem)
}

// Slice returns n bytes at off.
func (r *Region) Slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(r.mem) {
		return nil, errors.Errorf("slice [%d:%d] outside region of %d bytes", off, off+n, len(r.mem))
	}
	return r.mem[off : off+n : off+n], nil
}

// Ring lays a ring of the given capacity at off.
func (r *Region) Ring(off, capacity int) (*Ring, error) {
	b, err := r.Slice(off, RingSize(capacity))
	if err != nil {
		return nil, errors.Wrap(err, "can't place ring")
	}
	return NewRing(b)
}

// Close releases the region. Rings built on it must not be used afterwards.
func (r *Region) Close() error {
	if r.close == nil {
		return nil
	}
	err := r.close()
	r.close = nil
	r.mem = nil
	return err
}
