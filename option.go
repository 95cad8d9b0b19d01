package wbhci

import (
	"time"
)

// DeviceOption is an interface which the device should implement to allow using configuration options
type DeviceOption interface {
	SetLogger(Logger) error
	SetLayoutFile(path string) error
	SetSendTimeout(time.Duration) error
	SetCommandTimeout(time.Duration) error
	SetReadyTimeout(time.Duration) error
	SetMaxReadChunk(n int) error
	SetErrorHandler(handler func(error)) error
	SetDeviceSignature(uid uint64, deviceID uint16) error
}

// An Option is a configuration function, which configures the device.
type Option func(DeviceOption) error

// OptLogger replaces the logger used by the device and its channels.
func OptLogger(l Logger) Option {
	return func(opt DeviceOption) error {
		return opt.SetLogger(l)
	}
}

// OptLayoutFile loads the shared-memory layout from a JSON file.
func OptLayoutFile(path string) Option {
	return func(opt DeviceOption) error {
		return opt.SetLayoutFile(path)
	}
}

// OptSendTimeout bounds how long a send waits for the peer to free ring space.
func OptSendTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetSendTimeout(d)
	}
}

// OptCommandTimeout bounds how long a command waits for its completion event.
func OptCommandTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetCommandTimeout(d)
	}
}

// OptReadyTimeout bounds how long Init waits for the co-processor ready event.
func OptReadyTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetReadyTimeout(d)
	}
}

// OptMaxReadChunk caps the number of bytes taken from a ring per poll.
func OptMaxReadChunk(n int) Option {
	return func(opt DeviceOption) error {
		return opt.SetMaxReadChunk(n)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt DeviceOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptDeviceSignature sets the device signature used for address derivation.
func OptDeviceSignature(uid uint64, deviceID uint16) Option {
	return func(opt DeviceOption) error {
		return opt.SetDeviceSignature(uid, deviceID)
	}
}
