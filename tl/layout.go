package tl

import (
	"io/ioutil"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/shm"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// MinRingSize holds one maximal command or event frame.
const MinRingSize = 512

const maxRingSize = 1 << 30

// RingSpec places the ring of one traffic class.
type RingSpec struct {
	Class     Class          `json:"class"`
	Channel   ipcc.Channel   `json:"channel"`
	Direction ipcc.Direction `json:"direction"`
	Offset    int            `json:"offset"`
	Size      int            `json:"size"`
}

// End is the first region byte past the ring.
func (s RingSpec) End() int {
	return s.Offset + shm.RingSize(s.Size)
}

// Layout is the shared-memory and mailbox contract with the co-processor
// firmware.
type Layout struct {
	RegionSize int        `json:"region_size"`
	Rings      []RingSpec `json:"rings"`
}

// DefaultLayout is the assignment expected by the BLE stack firmware: BLE
// command and event on channel 1, system command and event on channel 2, ACL
// data on channel 6.
func DefaultLayout() Layout {
	specs := []RingSpec{
		{Class: BleCommand, Channel: ipcc.Channel1, Direction: ipcc.CPU1ToCPU2, Size: 512},
		{Class: BleEvent, Channel: ipcc.Channel1, Direction: ipcc.CPU2ToCPU1, Size: 1024},
		{Class: SysCommand, Channel: ipcc.Channel2, Direction: ipcc.CPU1ToCPU2, Size: 512},
		{Class: SysEvent, Channel: ipcc.Channel2, Direction: ipcc.CPU2ToCPU1, Size: 512},
		{Class: AclData, Channel: ipcc.Channel6, Direction: ipcc.CPU1ToCPU2, Size: 512},
	}
	off := 0
	for i := range specs {
		specs[i].Offset = off
		off = specs[i].End()
	}
	return Layout{RegionSize: (off + 4095) &^ 4095, Rings: specs}
}

// Spec returns the ring placement of class c.
func (l Layout) Spec(c Class) (RingSpec, bool) {
	for _, s := range l.Rings {
		if s.Class == c {
			return s, true
		}
	}
	return RingSpec{}, false
}

// Validate checks the layout against the firmware contract. Every violation
// is a *wbhci.ConfigurationError.
func (l Layout) Validate() error {
	if l.RegionSize <= 0 || l.RegionSize%8 != 0 {
		return wbhci.Configf("region", "size %d is not a positive multiple of 8", l.RegionSize)
	}

	var seen [numClasses]bool
	type pair struct {
		ch  ipcc.Channel
		dir ipcc.Direction
	}
	pairs := map[pair]Class{}

	for _, s := range l.Rings {
		if !s.Class.Valid() {
			return wbhci.Configf("ring", "unknown traffic class %v", s.Class)
		}
		item := s.Class.String()
		if seen[s.Class] {
			return wbhci.Configf(item, "class assigned twice")
		}
		seen[s.Class] = true

		if !s.Channel.Valid() {
			return wbhci.Configf(item, "channel %d outside 1..%d", s.Channel, ipcc.NumChannels)
		}
		if s.Direction != s.Class.Direction() {
			return wbhci.Configf(item, "direction %v, firmware expects %v", s.Direction, s.Class.Direction())
		}
		if other, ok := pairs[pair{s.Channel, s.Direction}]; ok {
			return wbhci.Configf(item, "%v %v already used by %v", s.Channel, s.Direction, other)
		}
		pairs[pair{s.Channel, s.Direction}] = s.Class

		if s.Size < MinRingSize || s.Size > maxRingSize || s.Size&(s.Size-1) != 0 {
			return wbhci.Configf(item, "ring size %d is not a power of two in [%d, %d]", s.Size, MinRingSize, maxRingSize)
		}
		if s.Size < hci.ACLHeaderLen+hci.DefaultMaxACLDataLen {
			return wbhci.Configf(item, "ring size %d cannot hold an ACL frame", s.Size)
		}
		if s.Offset < 0 || s.Offset%8 != 0 {
			return wbhci.Configf(item, "offset %d is not 8-byte aligned", s.Offset)
		}
		if s.End() > l.RegionSize {
			return wbhci.Configf(item, "ring [%d:%d] outside region of %d bytes", s.Offset, s.End(), l.RegionSize)
		}
	}

	for c, ok := range seen {
		if !ok {
			return wbhci.Configf(Class(c).String(), "class has no ring")
		}
	}

	specs := append([]RingSpec(nil), l.Rings...)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Offset < specs[j].Offset })
	for i := 1; i < len(specs); i++ {
		if specs[i].Offset < specs[i-1].End() {
			return wbhci.Configf(specs[i].Class.String(), "ring overlaps %v", specs[i-1].Class)
		}
	}
	return nil
}

// LoadLayout reads and validates a JSON layout.
func LoadLayout(path string) (Layout, error) {
	var l Layout
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return l, errors.Wrap(err, "can't read layout")
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, wbhci.Configf("layout", "%s: %v", path, err)
	}
	if err := l.Validate(); err != nil {
		return l, err
	}
	return l, nil
}

// SaveLayout writes l as indented JSON.
func SaveLayout(path string, l Layout) error {
	b, err := l.MarshalIndent()
	if err != nil {
		return err
	}
	return errors.Wrap(ioutil.WriteFile(path, b, 0644), "can't write layout")
}

// MarshalIndent renders the layout as indented JSON.
func (l Layout) MarshalIndent() ([]byte, error) {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "can't marshal layout")
	}
	return b, nil
}
