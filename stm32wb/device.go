// Package stm32wb brings up the BLE stack of an STM32WB radio co-processor
// and exposes its command channels and ACL data path.
package stm32wb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/controller"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/hci/cmd"
	"github.com/rigado/wbhci/hci/evt"
	"github.com/rigado/wbhci/identity"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/shm"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
)

// DefaultEventMask enables the events the host handles.
const DefaultEventMask = 0x3dbff807fffbffff

// FirmwareInfo describes the wireless stack running on the co-processor.
type FirmwareInfo struct {
	Kind          evt.FirmwareKind
	HCIVersion    uint8
	HCIRevision   uint16
	LMPVersion    uint8
	Manufacturer  uint16
	LMPSubversion uint16
}

func (f FirmwareInfo) String() string {
	return fmt.Sprintf("%v firmware, hci %d.%04x, lmp %d.%04x, manufacturer 0x%04x",
		f.Kind, f.HCIVersion, f.HCIRevision, f.LMPVersion, f.LMPSubversion, f.Manufacturer)
}

// Device is the host (CPU1) side of the co-processor link.
type Device struct {
	mu sync.Mutex

	hw     ipcc.Hardware
	region *shm.Region
	log    wbhci.Logger

	layout         tl.Layout
	bleInit        cmd.ShciBleInit
	sig            *identity.Signature
	sendTimeout    time.Duration
	commandTimeout time.Duration
	readyTimeout   time.Duration
	maxReadChunk   int
	errorHandler   func(error)

	mux  *tl.Mux
	mbox *ipcc.Mailbox
	t    *transport.Transport
	ble  *controller.Controller
	sys  *controller.Controller

	ready    chan evt.FirmwareKind
	firmware FirmwareInfo
	id       identity.Identity
	addr     [6]byte
}

// NewDevice builds the link over the given IPCC and shared memory. Nothing
// is sent to the co-processor until Init.
func NewDevice(hw ipcc.Hardware, region *shm.Region, opts ...wbhci.Option) (*Device, error) {
	d := &Device{
		hw:             hw,
		region:         region,
		log:            wbhci.ComponentLogger("stm32wb", nil),
		layout:         tl.DefaultLayout(),
		bleInit:        cmd.DefaultShciBleInit(),
		sendTimeout:    transport.DefaultConfig().SendTimeout,
		commandTimeout: controller.BLE().CommandTimeout,
		readyTimeout:   5 * time.Second,
		maxReadChunk:   transport.DefaultConfig().MaxReadChunk,
		ready:          make(chan evt.FirmwareKind, 1),
	}
	if err := d.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}

	mux, err := tl.NewMux(d.layout, region, ipcc.CPU1)
	if err != nil {
		return nil, err
	}
	mbox := ipcc.New(ipcc.CPU1, hw.Port(ipcc.CPU1))
	if err := hw.Attach(ipcc.CPU1, mbox.HandleRxIRQ, mbox.HandleTxIRQ); err != nil {
		return nil, errors.Wrap(err, "can't attach mailbox")
	}
	// CPU1 owns the ring headers and sets them up before CPU2 runs.
	mux.ResetRings()

	tc := transport.DefaultConfig()
	tc.SendTimeout = d.sendTimeout
	tc.MaxReadChunk = d.maxReadChunk
	tc.ErrorHandler = d.errorHandler
	t, err := transport.New(mux, mbox, tc)
	if err != nil {
		return nil, err
	}

	bc, sc := controller.BLE(), controller.System()
	bc.CommandTimeout, sc.CommandTimeout = d.commandTimeout, d.commandTimeout

	d.mux, d.mbox, d.t = mux, mbox, t
	d.ble = controller.New(t, bc)
	d.sys = controller.New(t, sc)
	if d.errorHandler != nil {
		d.ble.SetErrorHandler(d.errorHandler)
		d.sys.SetErrorHandler(d.errorHandler)
	}
	d.sys.SubscribeVendor(evt.CoprocessorReadySubCode, d.handleReady)
	return d, nil
}

// Option sets the options specified.
func (d *Device) Option(opts ...wbhci.Option) error {
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) handleReady(b []byte) error {
	k, err := evt.CoprocessorReady(b).KindWErr()
	if err != nil {
		return errors.Wrap(err, "invalid ready event")
	}
	d.log.Infof("co-processor ready: %v", k)
	select {
	case d.ready <- k:
	default:
		d.log.Warnf("duplicate ready event: %v", k)
	}
	return nil
}

// Init waits for the wireless stack, initialises the BLE stack and writes
// the device identity. Any failure is fatal to the device.
func (d *Device) Init(ctx context.Context) error {
	d.ble.Start()
	d.sys.Start()

	var kind evt.FirmwareKind
	timer := time.NewTimer(d.readyTimeout)
	defer timer.Stop()
	select {
	case kind = <-d.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &wbhci.PeerTimeout{Op: "co-processor ready", After: d.readyTimeout}
	}
	if kind != evt.FirmwareWireless {
		return errors.Errorf("co-processor runs %v firmware, wireless stack required", kind)
	}

	d.log.Info("shci ble init")
	var irp cmd.ShciBleInitRP
	if err := d.sys.Send(ctx, &d.bleInit, &irp); err != nil {
		return errors.Wrap(err, "shci ble init")
	}

	d.log.Info("hci reset")
	if err := d.ble.Send(ctx, &cmd.Reset{}, nil); err != nil {
		return errors.Wrap(err, "reset")
	}

	if err := d.writeIdentity(ctx); err != nil {
		return err
	}

	if err := d.ble.Send(ctx, &cmd.SetEventMask{EventMask: DefaultEventMask}, nil); err != nil {
		return errors.Wrap(err, "set event mask")
	}

	var vrp cmd.ReadLocalVersionInformationRP
	if err := d.ble.Send(ctx, &cmd.ReadLocalVersionInformation{}, &vrp); err != nil {
		return errors.Wrap(err, "read local version")
	}
	var arp cmd.ReadBDADDRRP
	if err := d.ble.Send(ctx, &cmd.ReadBDADDR{}, &arp); err != nil {
		return errors.Wrap(err, "read bd addr")
	}

	d.mu.Lock()
	d.firmware = FirmwareInfo{
		Kind:          kind,
		HCIVersion:    vrp.HCIVersion,
		HCIRevision:   vrp.HCIRevision,
		LMPVersion:    vrp.LMPPAMVersion,
		Manufacturer:  vrp.ManufacturerName,
		LMPSubversion: vrp.LMPPAMSubversion,
	}
	d.addr = arp.BDADDR
	d.mu.Unlock()

	d.log.Infof("%v, address %s", d.Firmware(), identity.FormatAddress(arp.BDADDR))
	return nil
}

func (d *Device) writeIdentity(ctx context.Context) error {
	if d.sig == nil {
		d.log.Warn("no device signature, keeping the factory address and keys")
		return nil
	}
	id, err := identity.Derive(*d.sig)
	if err != nil {
		return errors.Wrap(err, "can't derive identity")
	}

	writes := []struct {
		name string
		c    *cmd.HalWriteConfigData
	}{
		{"public address", cmd.PublicAddress(id.PublicAddress)},
		{"random address", cmd.RandomAddress(id.RandomAddress)},
		{"irk", cmd.IdentityRoot(id.IRK)},
		{"erk", cmd.EncryptionRoot(id.ERK)},
	}
	for _, w := range writes {
		var rp cmd.HalWriteConfigDataRP
		if err := d.ble.Send(ctx, w.c, &rp); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}

	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
	return nil
}

// BLE returns the controller of the BLE command channel.
func (d *Device) BLE() *controller.Controller {
	return d.ble
}

// System returns the controller of the system command channel.
func (d *Device) System() *controller.Controller {
	return d.sys
}

// Transport returns the underlying transport.
func (d *Device) Transport() *transport.Transport {
	return d.t
}

// Layout returns the shared-memory layout in use.
func (d *Device) Layout() tl.Layout {
	return d.layout
}

// Firmware returns what Init learned about the co-processor firmware.
func (d *Device) Firmware() FirmwareInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firmware
}

// Address returns the public address reported by the controller.
func (d *Device) Address() [6]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Identity returns the identity written at Init.
func (d *Device) Identity() identity.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// SendACL sends a data packet to the co-processor.
func (d *Device) SendACL(ctx context.Context, a *hci.ACLData) error {
	return d.t.Send(ctx, tl.AclData, a)
}

// ReceiveACL returns the next data packet from the co-processor.
func (d *Device) ReceiveACL(ctx context.Context) (*hci.ACLData, error) {
	p, err := d.t.Receive(ctx, tl.AclData)
	if err != nil {
		return nil, err
	}
	a, ok := p.(*hci.ACLData)
	if !ok {
		return nil, errors.Errorf("unexpected packet on acl class: %v", p)
	}
	return a, nil
}

// Close stops the controllers and the transport.
func (d *Device) Close() error {
	d.ble.Close()
	d.sys.Close()
	return d.t.Close()
}
