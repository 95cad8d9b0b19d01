package evt

// Event parameter views. Each type is the parameter block of its event,
// without the indicator, code and length octets. The plain accessors return
// a default on short input; the ...WErr variants report it.

type CommandComplete []byte
type CommandStatus []byte
type DisconnectionComplete []byte
type NumberOfCompletedPackets []byte
type HardwareError []byte
type Vendor []byte
type CoprocessorReady []byte

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

// Status is the first return parameter, which every command defines as its
// status.
func (e CommandComplete) Status() uint8 {
	v, _ := getByte(e, 3, 0)
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

// Valid reports whether the event carries all its fields.
func (e CommandStatus) Valid() bool {
	return len(e) == 4
}

func (e DisconnectionComplete) Status() uint8 {
	v, _ := getByte(e, 0, 0xff)
	return v
}

func (e DisconnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e DisconnectionComplete) Reason() uint8 {
	v, _ := getByte(e, 3, 0)
	return v
}

// Per-spec [Vol 2, Part E, 7.7.19], the packet structure should be:
//
//	NumOfHandle, HandleA, HandleB, CompPktNumA, CompPktNumB
//
// But controllers in the field send the interleaved form instead.
//
//	NumOfHandle, HandleA, CompPktNumA, HandleB, CompPktNumB
//	         02,   40 00,       01 00,   41 00,       01 00

func (e NumberOfCompletedPackets) NumberOfHandles() uint8 {
	v, _ := e.NumberOfHandlesWErr()
	return v
}

func (e NumberOfCompletedPackets) ConnectionHandle(i int) uint16 {
	v, _ := e.ConnectionHandleWErr(i)
	return v
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPackets(i int) uint16 {
	v, _ := e.HCNumOfCompletedPacketsWErr(i)
	return v
}

func (e HardwareError) HardwareCode() uint8 {
	v, _ := getByte(e, 0, 0)
	return v
}

func (e Vendor) SubeventCode() uint16 {
	v, _ := e.SubeventCodeWErr()
	return v
}

func (e Vendor) Payload() []byte {
	v, _ := getBytes(e, 2, -1)
	return v
}

func (e CoprocessorReady) Kind() FirmwareKind {
	v, _ := e.KindWErr()
	return v
}
