package cmd

import (
	"fmt"
	"io"
)

// Offsets of the co-processor configuration block written by
// HalWriteConfigData.
const (
	ConfigPublicAddress = 0x00
	ConfigERK           = 0x08
	ConfigIRK           = 0x18
	ConfigRandomAddress = 0x2E
)

// HalWriteConfigData implements ACI HAL Write Config Data (0x3F|0x000C).
type HalWriteConfigData struct {
	Offset uint8
	Value  []byte
}

// PublicAddress writes the public device address, least significant octet
// first.
func PublicAddress(a [6]byte) *HalWriteConfigData {
	return &HalWriteConfigData{Offset: ConfigPublicAddress, Value: a[:]}
}

// RandomAddress writes the static random address.
func RandomAddress(a [6]byte) *HalWriteConfigData {
	return &HalWriteConfigData{Offset: ConfigRandomAddress, Value: a[:]}
}

// IdentityRoot writes the identity root key.
func IdentityRoot(k [16]byte) *HalWriteConfigData {
	return &HalWriteConfigData{Offset: ConfigIRK, Value: k[:]}
}

// EncryptionRoot writes the encryption root key.
func EncryptionRoot(k [16]byte) *HalWriteConfigData {
	return &HalWriteConfigData{Offset: ConfigERK, Value: k[:]}
}

func (c *HalWriteConfigData) String() string {
	return fmt.Sprintf("ACI HAL Write Config Data (0x3F|0x000C) offset 0x%02X", c.Offset)
}

// OpCode returns the opcode of the command.
func (c *HalWriteConfigData) OpCode() int { return 0x3F<<10 | 0x000C }

// Len returns the length of the command.
func (c *HalWriteConfigData) Len() int { return 2 + len(c.Value) }

// Marshal serializes the command parameters into binary form.
func (c *HalWriteConfigData) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	b[0] = c.Offset
	b[1] = uint8(len(c.Value))
	copy(b[2:], c.Value)
	return nil
}

// HalWriteConfigDataRP returns the return parameter of ACI HAL Write Config Data
type HalWriteConfigDataRP struct {
	Status uint8
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (c *HalWriteConfigDataRP) Unmarshal(b []byte) error {
	return unmarshal(c, b)
}

// ShciBleInit implements the system channel BLE stack init (0x3F|0x0066).
// It is carried with the system command indicator.
type ShciBleInit struct {
	BleBufferAddress           uint32
	BleBufferSize              uint32
	NumAttrRecord              uint16
	NumAttrServ                uint16
	AttrValueArrSize           uint16
	NumOfLinks                 uint8
	ExtendedPacketLengthEnable uint8
	PrWriteListSize            uint8
	MbLockCount                uint8
	AttMtu                     uint16
	SlaveSca                   uint16
	MasterSca                  uint8
	LsSource                   uint8
	MaxConnEventLength         uint32
	HsStartupTime              uint16
	ViterbiEnable              uint8
	LlOnly                     uint8
	HwVersion                  uint8
}

// DefaultShciBleInit is the stack configuration for two links and a
// 156 byte ATT MTU.
func DefaultShciBleInit() ShciBleInit {
	return ShciBleInit{
		NumAttrRecord:              68,
		NumAttrServ:                8,
		AttrValueArrSize:           1344,
		NumOfLinks:                 2,
		ExtendedPacketLengthEnable: 1,
		PrWriteListSize:            0x3A,
		MbLockCount:                0x79,
		AttMtu:                     156,
		SlaveSca:                   500,
		MasterSca:                  0,
		LsSource:                   1,
		MaxConnEventLength:         0xFFFFFFFF,
		HsStartupTime:              0x148,
		ViterbiEnable:              1,
	}
}

func (c *ShciBleInit) String() string {
	return "SHCI BLE Init (0x3F|0x0066)"
}

// OpCode returns the opcode of the command.
func (c *ShciBleInit) OpCode() int { return 0x3F<<10 | 0x0066 }

// Len returns the length of the command.
func (c *ShciBleInit) Len() int { return 33 }

// Marshal serializes the command parameters into binary form.
func (c *ShciBleInit) Marshal(b []byte) error {
	return marshal(c, b)
}

// ShciBleInitRP returns the return parameter of SHCI BLE Init
type ShciBleInitRP struct {
	Status uint8
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (c *ShciBleInitRP) Unmarshal(b []byte) error {
	return unmarshal(c, b)
}
