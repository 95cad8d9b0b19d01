//go:build !linux

package shm

import (
	"strings"
	"testing"
)

func TestMapRegionUnsupported(t *testing.T) {
	r, err := MapRegion("/dev/shm/wbhci", 4096)
	if err == nil || r != nil {
		t.Fatalf("mapped %v", r)
	}
	if !strings.Contains(err.Error(), "/dev/shm/wbhci") {
		t.Fatalf("error %q does not name the path", err)
	}
}
