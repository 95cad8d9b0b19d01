package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Packet is one HCI frame.
type Packet interface {
	Indicator() PacketType

	// WireLen is the encoded length including the indicator.
	WireLen() int

	check(l Limits) error
	appendTo(b []byte) []byte
}

// Command is a host to controller command. A zero Type encodes as
// PktTypeCommand; PktTypeSysCommand selects the system channel framing.
type Command struct {
	Type   PacketType
	OpCode uint16
	Params []byte
}

func (c *Command) Indicator() PacketType {
	if c.Type == 0 {
		return PktTypeCommand
	}
	return c.Type
}

func (c *Command) WireLen() int {
	return CommandHeaderLen + len(c.Params)
}

func (c *Command) check(l Limits) error {
	switch c.Indicator() {
	case PktTypeCommand, PktTypeSysCommand:
	default:
		return errors.Errorf("command with indicator %v", c.Indicator())
	}
	if len(c.Params) > l.MaxParams {
		return errors.Errorf("command 0x%04X: %d parameter bytes, max %d", c.OpCode, len(c.Params), l.MaxParams)
	}
	return nil
}

func (c *Command) appendTo(b []byte) []byte {
	b = append(b, byte(c.Indicator()), byte(c.OpCode), byte(c.OpCode>>8), byte(len(c.Params)))
	return append(b, c.Params...)
}

func (c *Command) String() string {
	return fmt.Sprintf("%v op=0x%04X [% X]", c.Indicator(), c.OpCode, c.Params)
}

// Event is a controller to host event. A zero Type encodes as
// PktTypeEvent; system channel events use PktTypeSysEvent or
// PktTypeSysResponse.
type Event struct {
	Type   PacketType
	Code   uint8
	Params []byte
}

func (e *Event) Indicator() PacketType {
	if e.Type == 0 {
		return PktTypeEvent
	}
	return e.Type
}

func (e *Event) WireLen() int {
	return EventHeaderLen + len(e.Params)
}

func (e *Event) check(l Limits) error {
	switch e.Indicator() {
	case PktTypeEvent, PktTypeSysEvent, PktTypeSysResponse:
	default:
		return errors.Errorf("event with indicator %v", e.Indicator())
	}
	if len(e.Params) > l.MaxParams {
		return errors.Errorf("event 0x%02X: %d parameter bytes, max %d", e.Code, len(e.Params), l.MaxParams)
	}
	return nil
}

func (e *Event) appendTo(b []byte) []byte {
	b = append(b, byte(e.Indicator()), e.Code, byte(len(e.Params)))
	return append(b, e.Params...)
}

func (e *Event) String() string {
	return fmt.Sprintf("%v code=0x%02X [% X]", e.Indicator(), e.Code, e.Params)
}

// ACLData is an ACL data packet in either direction.
type ACLData struct {
	Handle uint16 // 12 bits
	PB     uint8  // packet boundary flag, 2 bits
	BC     uint8  // broadcast flag, 2 bits
	Data   []byte
}

func (a *ACLData) Indicator() PacketType {
	return PktTypeACLData
}

func (a *ACLData) WireLen() int {
	return ACLHeaderLen + len(a.Data)
}

func (a *ACLData) check(l Limits) error {
	if a.Handle > 0x0eff {
		return errors.Errorf("acl handle 0x%04X out of range", a.Handle)
	}
	if a.PB > 3 || a.BC > 3 {
		return errors.Errorf("acl flags pb=%d bc=%d out of range", a.PB, a.BC)
	}
	if len(a.Data) > l.MaxACLData {
		return errors.Errorf("acl: %d data bytes, max %d", len(a.Data), l.MaxACLData)
	}
	return nil
}

func (a *ACLData) appendTo(b []byte) []byte {
	var hdr [ACLHeaderLen]byte
	hdr[0] = byte(PktTypeACLData)
	binary.LittleEndian.PutUint16(hdr[1:], a.Handle&0x0fff|uint16(a.PB)<<12|uint16(a.BC)<<14)
	binary.LittleEndian.PutUint16(hdr[3:], uint16(len(a.Data)))
	b = append(b, hdr[:]...)
	return append(b, a.Data...)
}

func (a *ACLData) String() string {
	return fmt.Sprintf("acl handle=0x%03X pb=%d bc=%d [% X]", a.Handle, a.PB, a.BC, a.Data)
}

// Encode returns the on-wire bytes of p under DefaultLimits.
func Encode(p Packet) ([]byte, error) {
	return AppendPacket(make([]byte, 0, p.WireLen()), p, DefaultLimits)
}

// AppendPacket appends the on-wire bytes of p to b.
func AppendPacket(b []byte, p Packet, l Limits) ([]byte, error) {
	if p == nil {
		return b, errors.New("nil packet")
	}
	if err := p.check(l.Normalize()); err != nil {
		return b, errors.Wrap(err, "can't encode")
	}
	return p.appendTo(b), nil
}
