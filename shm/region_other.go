//go:build !linux

package shm

import "github.com/pkg/errors"

// MapRegion is only available on linux.
func MapRegion(path string, size int) (*Region, error) {
	return nil, errors.Errorf("can't map %s: shared regions are only available on linux", path)
}
