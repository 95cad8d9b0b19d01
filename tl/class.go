package tl

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/ipcc"
)

// Class is a traffic class carried between the cores.
type Class uint8

const (
	BleCommand Class = iota
	BleEvent
	AclData
	SysCommand
	SysEvent

	numClasses
)

var classNames = [numClasses]string{
	BleCommand: "ble-cmd",
	BleEvent:   "ble-evt",
	AclData:    "acl",
	SysCommand: "sys-cmd",
	SysEvent:   "sys-evt",
}

// Classes lists every traffic class.
func Classes() []Class {
	return []Class{BleCommand, BleEvent, AclData, SysCommand, SysEvent}
}

func (c Class) Valid() bool {
	return c < numClasses
}

func (c Class) String() string {
	if !c.Valid() {
		return fmt.Sprintf("class(%d)", uint8(c))
	}
	return classNames[c]
}

func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, errors.Errorf("invalid class %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	for i, n := range classNames {
		if n == string(b) {
			*c = Class(i)
			return nil
		}
	}
	return errors.Errorf("unknown traffic class %q", b)
}

// Direction is the flow the co-processor firmware expects for the class.
func (c Class) Direction() ipcc.Direction {
	switch c {
	case BleEvent, SysEvent:
		return ipcc.CPU2ToCPU1
	default:
		return ipcc.CPU1ToCPU2
	}
}

// Indicators lists the packet types that may appear on the ring of class c.
// Controller to host ACL data shares the BLE event ring.
func (c Class) Indicators() []hci.PacketType {
	switch c {
	case BleCommand:
		return []hci.PacketType{hci.PktTypeCommand}
	case BleEvent:
		return []hci.PacketType{hci.PktTypeEvent, hci.PktTypeACLData}
	case AclData:
		return []hci.PacketType{hci.PktTypeACLData}
	case SysCommand:
		return []hci.PacketType{hci.PktTypeSysCommand}
	case SysEvent:
		return []hci.PacketType{hci.PktTypeSysResponse, hci.PktTypeSysEvent}
	}
	return nil
}

// Route returns the class of a packet with indicator t read from ring.
func Route(ring Class, t hci.PacketType) Class {
	if t == hci.PktTypeACLData {
		return AclData
	}
	return ring
}
