package stm32wb

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci/cmd"
	"github.com/rigado/wbhci/identity"
	"github.com/rigado/wbhci/tl"
)

// SetLogger replaces the package logger.
func (d *Device) SetLogger(l wbhci.Logger) error {
	wbhci.SetLogger(l)
	d.log = wbhci.ComponentLogger("stm32wb", nil)
	return nil
}

// SetLayoutFile loads the shared-memory layout from a JSON file.
func (d *Device) SetLayoutFile(path string) error {
	l, err := tl.LoadLayout(path)
	if err != nil {
		return err
	}
	return d.setLayout(l)
}

func (d *Device) setLayout(l tl.Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	d.layout = l
	return nil
}

// SetSendTimeout bounds how long a send waits for ring space.
func (d *Device) SetSendTimeout(t time.Duration) error {
	d.sendTimeout = t
	return nil
}

// SetCommandTimeout bounds how long a command waits for its completion.
func (d *Device) SetCommandTimeout(t time.Duration) error {
	if t <= 0 {
		return errors.Errorf("invalid command timeout %v", t)
	}
	d.commandTimeout = t
	return nil
}

// SetReadyTimeout bounds the wait for the co-processor ready event.
func (d *Device) SetReadyTimeout(t time.Duration) error {
	if t <= 0 {
		return errors.Errorf("invalid ready timeout %v", t)
	}
	d.readyTimeout = t
	return nil
}

// SetMaxReadChunk caps the bytes taken from a ring per poll.
func (d *Device) SetMaxReadChunk(n int) error {
	if n <= 0 {
		return errors.Errorf("invalid read chunk %d", n)
	}
	d.maxReadChunk = n
	return nil
}

// SetErrorHandler ...
func (d *Device) SetErrorHandler(handler func(error)) error {
	d.errorHandler = handler
	return nil
}

// SetDeviceSignature sets the signature the identity is derived from.
func (d *Device) SetDeviceSignature(uid uint64, deviceID uint16) error {
	d.sig = &identity.Signature{UID64: uid, DeviceID: deviceID}
	return nil
}

// OptLayout uses l as the shared-memory layout.
func OptLayout(l tl.Layout) wbhci.Option {
	return func(opt wbhci.DeviceOption) error {
		d, ok := opt.(*Device)
		if !ok {
			return errors.New("layout option needs an stm32wb device")
		}
		return d.setLayout(l)
	}
}

// OptBleInit overrides the BLE stack parameters sent at Init.
func OptBleInit(p cmd.ShciBleInit) wbhci.Option {
	return func(opt wbhci.DeviceOption) error {
		d, ok := opt.(*Device)
		if !ok {
			return errors.New("ble init option needs an stm32wb device")
		}
		d.bleInit = p
		return nil
	}
}
