//go:build linux

package shm

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MapRegion maps size bytes of the file at path as a shared region, creating
// and growing the file as needed. Two processes mapping the same file see
// the same rings.
func MapRegion(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "can't open region file")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "can't stat region file")
	}
	if fi.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, errors.Wrap(err, "can't size region file")
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "can't map region")
	}

	return &Region{
		mem: mem,
		close: func() error {
			return unix.Munmap(mem)
		},
	}, nil
}
