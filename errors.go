package wbhci

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrChannelFault is returned by every call on a channel whose inbound
	// stream could not be resynchronised.
	ErrChannelFault = errors.New("channel fault")

	// ErrClosed is returned once the transport or controller has been closed.
	ErrClosed = errors.New("closed")
)

// ConfigurationError reports a mismatch between the configured layout and the
// co-processor memory contract. It is fatal to bring-up.
type ConfigurationError struct {
	Item   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Item, e.Reason)
}

// Configf builds a ConfigurationError.
func Configf(item string, format string, args ...interface{}) error {
	return &ConfigurationError{Item: item, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError reports an outbound frame that can never fit its ring.
type CapacityError struct {
	Class    string
	Size     int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: frame of %d bytes exceeds ring capacity %d", e.Class, e.Size, e.Capacity)
}

// BusyError reports a command issued while no command credit is available or
// while a command with the same opcode is still outstanding.
type BusyError struct {
	OpCode uint16
	Reason string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("controller busy: opcode 0x%04X: %s", e.OpCode, e.Reason)
}

// PeerTimeout reports that the co-processor did not acknowledge or answer in
// time. The channel stays usable.
type PeerTimeout struct {
	Op    string
	After time.Duration
}

func (e *PeerTimeout) Error() string {
	return fmt.Sprintf("peer timeout: %s after %v", e.Op, e.After)
}

func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func IsCapacityError(err error) bool {
	var e *CapacityError
	return errors.As(err, &e)
}

func IsBusy(err error) bool {
	var e *BusyError
	return errors.As(err, &e)
}

func IsPeerTimeout(err error) bool {
	var e *PeerTimeout
	return errors.As(err, &e)
}
