package sim

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/hci/cmd"
	"github.com/rigado/wbhci/hci/evt"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
)

// Opcodes answered by the co-processor.
var (
	opReset              = uint16((&cmd.Reset{}).OpCode())
	opSetEventMask       = uint16((&cmd.SetEventMask{}).OpCode())
	opReadLocalVersion   = uint16((&cmd.ReadLocalVersionInformation{}).OpCode())
	opReadBDADDR         = uint16((&cmd.ReadBDADDR{}).OpCode())
	opDisconnect         = uint16((&cmd.Disconnect{}).OpCode())
	opSetAdvertiseEnable = uint16((&cmd.LESetAdvertiseEnable{}).OpCode())
	opWriteConfigData    = uint16((&cmd.HalWriteConfigData{}).OpCode())
	opShciBleInit        = uint16((&cmd.ShciBleInit{}).OpCode())
)

// Local version reported by the simulated stack.
const (
	HCIVersion       = 0x0B
	HCIRevision      = 0x0000
	ManufacturerName = 0x0030
	LMPSubversion    = 0x2211
)

const configSize = cmd.ConfigRandomAddress + 6

// ConfigData is the configuration block written with HalWriteConfigData.
type ConfigData struct {
	PublicAddress [6]byte
	RandomAddress [6]byte
	IRK           [16]byte
	ERK           [16]byte
}

// Coprocessor answers the host the way the wireless stack firmware does.
// It runs on the CPU2 side of a transport.
type Coprocessor struct {
	t   *transport.Transport
	log wbhci.Logger

	firmware evt.FirmwareKind
	bdaddr   [6]byte

	mu          sync.Mutex
	config      [configSize]byte
	written     map[int]bool
	bleReady    bool
	advertising bool
	eventMask   uint64
	conns       map[uint16]bool
	received    []uint16
	muted       map[uint16]bool
	failures    map[uint16]uint8

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coprocessor.
type Option func(*Coprocessor)

// WithFirmware selects the firmware announced in the ready event.
func WithFirmware(k evt.FirmwareKind) Option {
	return func(s *Coprocessor) { s.firmware = k }
}

// WithAddress sets the address reported before one is configured.
func WithAddress(a [6]byte) Option {
	return func(s *Coprocessor) { s.bdaddr = a }
}

// New returns a co-processor serving t, which must be a CPU2 transport.
func New(t *transport.Transport, opts ...Option) *Coprocessor {
	s := &Coprocessor{
		t:        t,
		log:      wbhci.ComponentLogger("sim", nil),
		firmware: evt.FirmwareWireless,
		written:  map[int]bool{},
		conns:    map[uint16]bool{},
		muted:    map[uint16]bool{},
		failures: map[uint16]uint8{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start announces the firmware and serves commands and ACL data until Close.
func (s *Coprocessor) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	ready := &hci.Event{
		Type:   hci.PktTypeSysEvent,
		Code:   evt.VendorCode,
		Params: []byte{byte(evt.CoprocessorReadySubCode & 0xff), byte(evt.CoprocessorReadySubCode >> 8), byte(s.firmware)},
	}
	if err := s.t.Send(ctx, tl.SysEvent, ready); err != nil {
		cancel()
		return errors.Wrap(err, "can't announce ready")
	}
	s.log.Infof("%v firmware ready", s.firmware)

	s.serve(ctx, tl.BleCommand, s.handleBle)
	s.serve(ctx, tl.SysCommand, s.handleSys)
	s.serve(ctx, tl.AclData, s.handleACL)
	return nil
}

// Close stops serving.
func (s *Coprocessor) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Coprocessor) serve(ctx context.Context, c tl.Class, h func(context.Context, hci.Packet) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			p, err := s.t.Receive(ctx, c)
			if err != nil {
				if ctx.Err() == nil && errors.Cause(err) != wbhci.ErrClosed {
					s.log.Errorf("%v: %v", c, err)
				}
				return
			}
			if err := h(ctx, p); err != nil && ctx.Err() == nil {
				s.log.Warnf("%v: %v", c, err)
			}
		}
	}()
}

func (s *Coprocessor) handleBle(ctx context.Context, p hci.Packet) error {
	c, ok := p.(*hci.Command)
	if !ok {
		return errors.Errorf("unexpected packet %v", p)
	}
	if !s.accept(c.OpCode) {
		return nil
	}
	if st, ok := s.failure(c.OpCode); ok {
		return s.complete(ctx, c.OpCode, []byte{st})
	}

	s.mu.Lock()
	ready := s.bleReady
	s.mu.Unlock()
	if !ready && c.OpCode != opReset {
		return s.complete(ctx, c.OpCode, []byte{byte(hci.ErrCommandDisallowed)})
	}

	switch c.OpCode {
	case opReset:
		s.mu.Lock()
		s.advertising = false
		s.conns = map[uint16]bool{}
		s.mu.Unlock()
		return s.complete(ctx, c.OpCode, []byte{0x00})

	case opSetEventMask:
		if len(c.Params) != 8 {
			return s.complete(ctx, c.OpCode, []byte{byte(hci.ErrInvalidParams)})
		}
		s.mu.Lock()
		s.eventMask = binary.LittleEndian.Uint64(c.Params)
		s.mu.Unlock()
		return s.complete(ctx, c.OpCode, []byte{0x00})

	case opReadLocalVersion:
		rp := make([]byte, 9)
		rp[1] = HCIVersion
		binary.LittleEndian.PutUint16(rp[2:], HCIRevision)
		rp[4] = HCIVersion
		binary.LittleEndian.PutUint16(rp[5:], ManufacturerName)
		binary.LittleEndian.PutUint16(rp[7:], LMPSubversion)
		return s.complete(ctx, c.OpCode, rp)

	case opReadBDADDR:
		a := s.Address()
		return s.complete(ctx, c.OpCode, append([]byte{0x00}, a[:]...))

	case opWriteConfigData:
		return s.complete(ctx, c.OpCode, []byte{s.writeConfig(c.Params)})

	case opSetAdvertiseEnable:
		if len(c.Params) != 1 || c.Params[0] > 1 {
			return s.complete(ctx, c.OpCode, []byte{byte(hci.ErrInvalidParams)})
		}
		s.mu.Lock()
		s.advertising = c.Params[0] == 1
		s.mu.Unlock()
		return s.complete(ctx, c.OpCode, []byte{0x00})

	case opDisconnect:
		return s.disconnect(ctx, c)

	default:
		return s.complete(ctx, c.OpCode, []byte{byte(hci.ErrUnknownCommand)})
	}
}

func (s *Coprocessor) disconnect(ctx context.Context, c *hci.Command) error {
	if len(c.Params) != 3 {
		return s.status(ctx, c.OpCode, byte(hci.ErrInvalidParams))
	}
	h := binary.LittleEndian.Uint16(c.Params) & 0x0fff

	s.mu.Lock()
	known := s.conns[h]
	delete(s.conns, h)
	s.mu.Unlock()

	if !known {
		return s.status(ctx, c.OpCode, byte(hci.ErrConnID))
	}
	if err := s.status(ctx, c.OpCode, 0x00); err != nil {
		return err
	}
	return s.Emit(ctx, &hci.Event{
		Code:   evt.DisconnectionCompleteCode,
		Params: []byte{0x00, byte(h), byte(h >> 8), byte(hci.ErrLocalHost)},
	})
}

func (s *Coprocessor) writeConfig(b []byte) byte {
	if len(b) < 2 || int(b[1]) != len(b)-2 {
		return byte(hci.ErrInvalidParams)
	}
	off, n := int(b[0]), int(b[1])
	if off+n > configSize {
		return byte(hci.ErrInvalidParams)
	}
	s.mu.Lock()
	copy(s.config[off:], b[2:])
	s.written[off] = true
	s.mu.Unlock()
	return 0x00
}

func (s *Coprocessor) handleSys(ctx context.Context, p hci.Packet) error {
	c, ok := p.(*hci.Command)
	if !ok {
		return errors.Errorf("unexpected packet %v", p)
	}
	if !s.accept(c.OpCode) {
		return nil
	}
	if st, ok := s.failure(c.OpCode); ok {
		return s.sysComplete(ctx, c.OpCode, st)
	}

	switch c.OpCode {
	case opShciBleInit:
		if len(c.Params) != (&cmd.ShciBleInit{}).Len() || s.firmware != evt.FirmwareWireless {
			return s.sysComplete(ctx, c.OpCode, byte(hci.ErrInvalidParams))
		}
		s.mu.Lock()
		s.bleReady = true
		s.mu.Unlock()
		return s.sysComplete(ctx, c.OpCode, 0x00)
	default:
		return s.sysComplete(ctx, c.OpCode, byte(hci.ErrUnknownCommand))
	}
}

// handleACL loops data back to the host and returns the buffer credit.
func (s *Coprocessor) handleACL(ctx context.Context, p hci.Packet) error {
	a, ok := p.(*hci.ACLData)
	if !ok {
		return errors.Errorf("unexpected packet %v", p)
	}
	echo := &hci.ACLData{Handle: a.Handle, PB: hci.PbfControllerToHostStart, Data: a.Data}
	if err := s.t.Send(ctx, tl.BleEvent, echo); err != nil {
		return err
	}
	return s.Emit(ctx, &hci.Event{
		Code:   evt.NumberOfCompletedPacketsCode,
		Params: []byte{0x01, byte(a.Handle), byte(a.Handle >> 8), 0x01, 0x00},
	})
}

func (s *Coprocessor) accept(op uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, op)
	if s.muted[op] {
		s.log.Debugf("ignoring muted command 0x%04X", op)
		return false
	}
	return true
}

func (s *Coprocessor) failure(op uint16) (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.failures[op]
	return st, ok
}

func (s *Coprocessor) complete(ctx context.Context, op uint16, rp []byte) error {
	params := append([]byte{0x01, byte(op), byte(op >> 8)}, rp...)
	return s.Emit(ctx, &hci.Event{Code: evt.CommandCompleteCode, Params: params})
}

func (s *Coprocessor) status(ctx context.Context, op uint16, st byte) error {
	return s.Emit(ctx, &hci.Event{Code: evt.CommandStatusCode, Params: []byte{st, 0x01, byte(op), byte(op >> 8)}})
}

func (s *Coprocessor) sysComplete(ctx context.Context, op uint16, st byte) error {
	return s.t.Send(ctx, tl.SysEvent, &hci.Event{
		Type:   hci.PktTypeSysResponse,
		Code:   evt.CommandCompleteCode,
		Params: []byte{0x01, byte(op), byte(op >> 8), st},
	})
}

// Emit sends an event on the BLE event channel.
func (s *Coprocessor) Emit(ctx context.Context, e *hci.Event) error {
	return s.t.Send(ctx, tl.BleEvent, e)
}

// Inject writes raw bytes on the ring of class c, framed or not.
func (s *Coprocessor) Inject(c tl.Class, raw []byte) error {
	return s.t.WriteRaw(c, raw)
}

// Connect opens a connection with the given handle and reports it with an LE
// Connection Complete event.
func (s *Coprocessor) Connect(ctx context.Context, handle uint16, peer [6]byte) error {
	s.mu.Lock()
	s.conns[handle] = true
	s.advertising = false
	s.mu.Unlock()

	params := []byte{
		evt.LEConnectionCompleteSubCode,
		0x00,                            // status
		byte(handle), byte(handle >> 8), // handle
		0x01, // role: slave
		0x00, // peer address type
	}
	params = append(params, peer[:]...)
	params = append(params, 0x28, 0x00, 0x00, 0x00, 0xf4, 0x01, 0x00)
	return s.Emit(ctx, &hci.Event{Code: evt.LEMetaCode, Params: params})
}

// Mute makes the co-processor ignore op, or answer it again.
func (s *Coprocessor) Mute(op uint16, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if muted {
		s.muted[op] = true
	} else {
		delete(s.muted, op)
	}
}

// FailWith answers op with the given status until cleared with status 0.
func (s *Coprocessor) FailWith(op uint16, status uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, op)
	} else {
		s.failures[op] = status
	}
}

// Received lists the opcodes received so far, in order.
func (s *Coprocessor) Received() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.received...)
}

// Config returns the configuration written by the host.
func (s *Coprocessor) Config() ConfigData {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d ConfigData
	copy(d.PublicAddress[:], s.config[cmd.ConfigPublicAddress:])
	copy(d.RandomAddress[:], s.config[cmd.ConfigRandomAddress:])
	copy(d.IRK[:], s.config[cmd.ConfigIRK:])
	copy(d.ERK[:], s.config[cmd.ConfigERK:])
	return d
}

// Address is the public address in use: the configured one once written.
func (s *Coprocessor) Address() [6]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written[cmd.ConfigPublicAddress] {
		var a [6]byte
		copy(a[:], s.config[cmd.ConfigPublicAddress:])
		return a
	}
	return s.bdaddr
}

// BleReady reports whether the BLE stack has been initialised.
func (s *Coprocessor) BleReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bleReady
}

// Advertising reports the advertising state.
func (s *Coprocessor) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// EventMask returns the last event mask set by the host.
func (s *Coprocessor) EventMask() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventMask
}
