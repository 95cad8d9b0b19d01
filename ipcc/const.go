package ipcc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Channel is one of the six IPCC channels. Each channel has one flag per
// direction.
type Channel uint8

const (
	Channel1 Channel = iota + 1
	Channel2
	Channel3
	Channel4
	Channel5
	Channel6
)

// NumChannels is the number of channels implemented by the STM32WB IPCC.
const NumChannels = 6

const allChannels uint32 = 1<<NumChannels - 1

// Valid reports whether c names a channel implemented by the hardware.
func (c Channel) Valid() bool {
	return c >= Channel1 && c <= Channel6
}

func (c Channel) bit() uint32 {
	return 1 << (c - 1)
}

func (c Channel) String() string {
	return fmt.Sprintf("ch%d", uint8(c))
}

// Core identifies one of the two processors sharing the mailbox.
type Core uint8

const (
	CPU1 Core = iota // application core (Cortex-M4)
	CPU2             // radio co-processor (Cortex-M0+)
)

func (c Core) String() string {
	switch c {
	case CPU1:
		return "cpu1"
	case CPU2:
		return "cpu2"
	default:
		return fmt.Sprintf("core(%d)", uint8(c))
	}
}

// Peer returns the other core.
func (c Core) Peer() Core {
	if c == CPU1 {
		return CPU2
	}
	return CPU1
}

// Outbound is the direction whose flags this core sets.
func (c Core) Outbound() Direction {
	if c == CPU1 {
		return CPU1ToCPU2
	}
	return CPU2ToCPU1
}

// Inbound is the direction whose flags this core clears.
func (c Core) Inbound() Direction {
	return c.Peer().Outbound()
}

// Direction selects one of the two flags of a channel.
type Direction uint8

const (
	CPU1ToCPU2 Direction = iota
	CPU2ToCPU1
)

func (d Direction) String() string {
	switch d {
	case CPU1ToCPU2:
		return "c1->c2"
	case CPU2ToCPU1:
		return "c2->c1"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the two directions.
func (d Direction) Valid() bool {
	return d == CPU1ToCPU2 || d == CPU2ToCPU1
}

// ParseDirection accepts the names produced by String as well as "out"/"in"
// relative to CPU1.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "c1->c2", "out", "cpu1->cpu2":
		return CPU1ToCPU2, nil
	case "c2->c1", "in", "cpu2->cpu1":
		return CPU2ToCPU1, nil
	default:
		return 0, errors.Errorf("unknown direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, errors.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
