package h4

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
)

// DefaultOptions returns 8N1 settings at the given baud rate.
func DefaultOptions(port string, baud uint) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	}
}

// Open opens a serial port for the bridge.
func Open(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	// reads return after a short idle gap so Close is noticed
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	log := wbhci.ComponentLogger("h4", map[string]interface{}{"port": opts.PortName})
	log.Debugf("opening at %d baud", opts.BaudRate)
	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", opts.PortName)
	}
	log.Infof("opened")
	return sp, nil
}
