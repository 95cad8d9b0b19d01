package hci

import "fmt"

// ErrCommand is an HCI status code returned by the controller
// [Vol 2, Part D, 1.3].
type ErrCommand byte

const (
	ErrUnknownCommand     ErrCommand = 0x01
	ErrConnID             ErrCommand = 0x02
	ErrHardware           ErrCommand = 0x03
	ErrAuthFailure        ErrCommand = 0x05
	ErrMemoryCapacity     ErrCommand = 0x07
	ErrConnTimeout        ErrCommand = 0x08
	ErrCommandDisallowed  ErrCommand = 0x0C
	ErrInvalidParams      ErrCommand = 0x12
	ErrRemoteUser         ErrCommand = 0x13
	ErrLocalHost          ErrCommand = 0x16
	ErrUnsupportedParams  ErrCommand = 0x11
	ErrUnspecified        ErrCommand = 0x1F
	ErrControllerBusy     ErrCommand = 0x3A
	ErrAdvertisingTimeout ErrCommand = 0x3C
	ErrConnEstablish      ErrCommand = 0x3E
)

var errCommandNames = map[ErrCommand]string{
	ErrUnknownCommand:     "unknown HCI command",
	ErrConnID:             "unknown connection identifier",
	ErrHardware:           "hardware failure",
	ErrAuthFailure:        "authentication failure",
	ErrMemoryCapacity:     "memory capacity exceeded",
	ErrConnTimeout:        "connection timeout",
	ErrCommandDisallowed:  "command disallowed",
	ErrUnsupportedParams:  "unsupported feature or parameter value",
	ErrInvalidParams:      "invalid HCI command parameters",
	ErrRemoteUser:         "remote user terminated connection",
	ErrLocalHost:          "connection terminated by local host",
	ErrUnspecified:        "unspecified error",
	ErrControllerBusy:     "controller busy",
	ErrAdvertisingTimeout: "advertising timeout",
	ErrConnEstablish:      "connection failed to be established",
}

func (e ErrCommand) Error() string {
	if s, ok := errCommandNames[e]; ok {
		return fmt.Sprintf("hci: %s (0x%02X)", s, byte(e))
	}
	return fmt.Sprintf("hci: status 0x%02X", byte(e))
}
