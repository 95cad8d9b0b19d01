package shm

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

func newTestRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	reg := NewRegion(RingSize(capacity))
	r, err := reg.Ring(0, capacity)
	if err != nil {
		t.Fatal(err)
	}
	r.Reset()
	return r
}

func TestRingRejectsBadSizes(t *testing.T) {
	reg := NewRegion(64)
	if _, err := reg.Ring(0, 24); err == nil {
		t.Fatal("accepted non power of two capacity")
	}
	if _, err := reg.Ring(0, 64); err == nil {
		t.Fatal("accepted ring larger than region")
	}
	b, _ := reg.Slice(1, 40)
	if _, err := NewRing(b); err == nil {
		t.Fatal("accepted unaligned memory")
	}
}

func TestRingWriteIsAllOrNothing(t *testing.T) {
	r := newTestRing(t, 16)

	if !r.TryWrite([]byte("0123456789")) {
		t.Fatal("write failed")
	}
	if r.TryWrite([]byte("abcdefg")) {
		t.Fatal("partial write accepted")
	}
	if r.Len() != 10 || r.Free() != 6 {
		t.Fatalf("len %d free %d", r.Len(), r.Free())
	}
	if r.TryWrite(make([]byte, 17)) {
		t.Fatal("write larger than capacity accepted")
	}
	if !r.TryWrite([]byte("abcdef")) {
		t.Fatal("exact fit rejected")
	}
}

func TestRingWrapAround(t *testing.T) {
	r := newTestRing(t, 8)

	r.TryWrite([]byte{1, 2, 3, 4, 5, 6})
	b, ok := r.TryRead(4)
	if !ok || !bytes.Equal(b, []byte{1, 2, 3, 4}) {
		t.Fatalf("got %v", b)
	}

	// crosses the end of the data area
	if !r.TryWrite([]byte{7, 8, 9, 10, 11}) {
		t.Fatal("wrapped write failed")
	}
	b, ok = r.TryRead(100)
	if !ok || !bytes.Equal(b, []byte{5, 6, 7, 8, 9, 10, 11}) {
		t.Fatalf("got %v", b)
	}
	if _, ok := r.TryRead(1); ok {
		t.Fatal("read from empty ring")
	}
}

func TestRingPreservesOrder(t *testing.T) {
	r := newTestRing(t, 64)
	rnd := rand.New(rand.NewSource(1))

	var want, got []byte
	for i := 0; i < 500; i++ {
		w := make([]byte, 1+rnd.Intn(20))
		rnd.Read(w)
		for !r.TryWrite(w) {
			b, _ := r.TryRead(1 + rnd.Intn(16))
			got = append(got, b...)
		}
		want = append(want, w...)
	}
	for {
		b, ok := r.TryRead(7)
		if !ok {
			break
		}
		got = append(got, b...)
	}

	if !bytes.Equal(want, got) {
		t.Fatal("stream corrupted")
	}
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	r := newTestRing(t, 128)

	const total = 1 << 16
	src := make([]byte, total)
	rand.New(rand.NewSource(2)).Read(src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for off := 0; off < total; {
			n := 1 + off%37
			if off+n > total {
				n = total - off
			}
			if r.TryWrite(src[off : off+n]) {
				off += n
			} else {
				runtime.Gosched()
			}
		}
	}()

	dst := make([]byte, 0, total)
	buf := make([]byte, 50)
	for len(dst) < total {
		n := r.ReadInto(buf)
		if n == 0 {
			runtime.Gosched()
			continue
		}
		dst = append(dst, buf[:n]...)
	}
	wg.Wait()

	if !bytes.Equal(src, dst) {
		t.Fatal("bytes lost or reordered")
	}
}

func TestMapRegionSharesMemory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mmap regions are linux only")
	}
	path := filepath.Join(t.TempDir(), "sram2")
	defer os.Remove(path)

	a, err := MapRegion(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := MapRegion(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ra, err := a.Ring(512, 256)
	if err != nil {
		t.Fatal(err)
	}
	ra.Reset()
	rb, err := b.Ring(512, 256)
	if err != nil {
		t.Fatal(err)
	}

	ra.TryWrite([]byte{0x04, 0x0e, 0x01, 0x01})
	got, ok := rb.TryRead(16)
	if !ok || !bytes.Equal(got, []byte{0x04, 0x0e, 0x01, 0x01}) {
		t.Fatalf("mapping not shared: %v", got)
	}
}
