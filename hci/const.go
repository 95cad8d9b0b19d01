package hci

// PacketType is the one-octet indicator in front of every frame.
type PacketType uint8

// HCI Packet types
const (
	PktTypeCommand PacketType = 0x01
	PktTypeACLData PacketType = 0x02
	PktTypeSCOData PacketType = 0x03
	PktTypeEvent   PacketType = 0x04
	PktTypeVendor  PacketType = 0xFF
)

// Co-processor transport layer packet types carried on the system channel.
// Their headers are laid out like Command and Event.
const (
	PktTypeSysCommand  PacketType = 0x10
	PktTypeSysResponse PacketType = 0x11
	PktTypeSysEvent    PacketType = 0x12
)

func (t PacketType) String() string {
	switch t {
	case PktTypeCommand:
		return "cmd"
	case PktTypeACLData:
		return "acl"
	case PktTypeSCOData:
		return "sco"
	case PktTypeEvent:
		return "evt"
	case PktTypeVendor:
		return "vendor"
	case PktTypeSysCommand:
		return "syscmd"
	case PktTypeSysResponse:
		return "sysrsp"
	case PktTypeSysEvent:
		return "sysevt"
	default:
		return "unknown"
	}
}

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	PbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	PbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// Header sizes, indicator included.
const (
	CommandHeaderLen = 4
	EventHeaderLen   = 3
	ACLHeaderLen     = 5
)

const (
	// MaxParamLen is the largest command or event parameter block.
	MaxParamLen = 255

	// DefaultMaxACLDataLen is the LE data length extension maximum.
	DefaultMaxACLDataLen = 251

	// MaxFrameLen is the longest command or event frame.
	MaxFrameLen = EventHeaderLen + MaxParamLen + 1
)

// Limits bounds declared lengths. Anything longer is treated as garbage.
type Limits struct {
	MaxParams  int
	MaxACLData int
}

// DefaultLimits accepts every well-formed command and event and LE-sized ACL
// data.
var DefaultLimits = Limits{
	MaxParams:  MaxParamLen,
	MaxACLData: DefaultMaxACLDataLen,
}

// Normalize returns l with zero fields set to their defaults and every
// field clamped to what the length octets can declare.
func (l Limits) Normalize() Limits {
	if l.MaxParams <= 0 || l.MaxParams > MaxParamLen {
		l.MaxParams = MaxParamLen
	}
	switch {
	case l.MaxACLData <= 0:
		l.MaxACLData = DefaultMaxACLDataLen
	case l.MaxACLData > 0xffff:
		l.MaxACLData = 0xffff
	}
	return l
}

// OpCode builds an opcode from its group and command fields.
func OpCode(ogf, ocf uint16) uint16 {
	return ogf<<10 | ocf&0x03ff
}

// OGF returns the opcode group field.
func OGF(op uint16) uint16 {
	return op >> 10
}

// OCF returns the opcode command field.
func OCF(op uint16) uint16 {
	return op & 0x03ff
}

// Opcode groups.
const (
	OGFLinkCtl   = 0x01
	OGFHostCtl   = 0x03
	OGFInfoParam = 0x04
	OGFStatus    = 0x05
	OGFLECtl     = 0x08
	OGFVendor    = 0x3f
)

// InvalidHandle marks an unknown connection handle.
const InvalidHandle = 0xffff
