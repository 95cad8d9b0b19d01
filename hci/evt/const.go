package evt

// Event codes [Vol 2, Part E, 7.7].
const (
	DisconnectionCompleteCode        = 0x05
	EncryptionChangeCode             = 0x08
	ReadRemoteVersionInformationCode = 0x0C
	CommandCompleteCode              = 0x0E
	CommandStatusCode                = 0x0F
	HardwareErrorCode                = 0x10
	NumberOfCompletedPacketsCode     = 0x13
	DataBufferOverflowCode           = 0x1A
	EncryptionKeyRefreshCompleteCode = 0x30
	LEMetaCode                       = 0x3E
	VendorCode                       = 0xFF
)

// LE meta sub-event codes.
const (
	LEConnectionCompleteSubCode       = 0x01
	LEAdvertisingReportSubCode        = 0x02
	LEConnectionUpdateCompleteSubCode = 0x03
	LELongTermKeyRequestSubCode       = 0x05
)

// Co-processor vendor sub-event codes.
const (
	CoprocessorReadySubCode   = 0x9200
	CoprocessorErrorSubCode   = 0x9201
	BleNvmRamUpdateSubCode    = 0x9202
	HalInitializedSubCode     = 0x0001
	GapPairingCompleteSubCode = 0x0401
)

// FirmwareKind is reported by the ready event.
type FirmwareKind uint8

const (
	FirmwareWireless FirmwareKind = 0x00
	FirmwareFUS      FirmwareKind = 0x01
)

func (k FirmwareKind) String() string {
	switch k {
	case FirmwareWireless:
		return "wireless"
	case FirmwareFUS:
		return "fus"
	default:
		return "unknown"
	}
}
