package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/hci/evt"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP ...
type CommandRP interface {
	Unmarshal(b []byte) error
}

// Completer is implemented by commands that finish with an event other than
// Command Complete. Such a command stays pending after a successful Command
// Status until the named event arrives for the same connection handle.
type Completer interface {
	CompletionEvent() (code uint8, handle uint16)
}

// HandlerFunc receives the parameters of an event.
type HandlerFunc func(b []byte) error

// Config selects the channel a controller talks over.
type Config struct {
	Name         string
	CommandClass tl.Class
	EventClass   tl.Class
	CommandType  hci.PacketType

	// MaxCredits caps the command credits granted by the peer.
	MaxCredits int

	// CommandTimeout bounds the wait for a command's completion.
	CommandTimeout time.Duration
}

// BLE is the configuration of the BLE command channel.
func BLE() Config {
	return Config{
		Name:           "ble",
		CommandClass:   tl.BleCommand,
		EventClass:     tl.BleEvent,
		CommandType:    hci.PktTypeCommand,
		MaxCredits:     1,
		CommandTimeout: 3 * time.Second,
	}
}

// System is the configuration of the co-processor system channel.
func System() Config {
	return Config{
		Name:           "sys",
		CommandClass:   tl.SysCommand,
		EventClass:     tl.SysEvent,
		CommandType:    hci.PktTypeSysCommand,
		MaxCredits:     1,
		CommandTimeout: 3 * time.Second,
	}
}

type pkt struct {
	cmd  Command
	sent time.Time
	done chan []byte

	// set once a Completer has its Command Status
	awaiting bool
	code     uint8
	handle   uint16
}

// Controller correlates commands with their completion events on one
// command channel and dispatches every other event.
type Controller struct {
	cfg Config
	t   *transport.Transport
	log wbhci.Logger

	// Host to Controller command flow control [Vol 2, Part E, 4.4]
	muSent  sync.Mutex
	sent    map[int]*pkt
	credits int

	muHandlers   sync.RWMutex
	evth         map[uint8]HandlerFunc
	vendorh      map[uint16]HandlerFunc
	eventHandler func(*hci.Event)
	errorHandler func(error)

	startOnce sync.Once
	reset     chan struct{}
	cancel    context.CancelFunc
	loopCtx   context.Context
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// New returns a controller over t. Handlers should be registered before
// Start.
func New(t *transport.Transport, cfg Config) *Controller {
	if cfg.MaxCredits <= 0 {
		cfg.MaxCredits = 1
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		t:        t,
		log:      wbhci.ComponentLogger("controller", map[string]interface{}{"channel": cfg.Name}),
		sent:     make(map[int]*pkt),
		credits:  1,
		evth:     map[uint8]HandlerFunc{},
		vendorh:  map[uint16]HandlerFunc{},
		reset:    make(chan struct{}, 1),
		loopCtx:  ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start launches the event loop.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.loop()
	})
}

// Close stops the event loop and fails every pending command.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	c.startOnce.Do(func() { close(c.loopDone) })
	<-c.loopDone
	return nil
}

// Subscribe routes events with the given code to h. Command Complete and
// Command Status are always consumed by the correlator.
func (c *Controller) Subscribe(code uint8, h HandlerFunc) {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()
	if h == nil {
		delete(c.evth, code)
		return
	}
	c.evth[code] = h
}

// SubscribeVendor routes vendor events with the given sub-event code to h.
func (c *Controller) SubscribeVendor(subcode uint16, h HandlerFunc) {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()
	if h == nil {
		delete(c.vendorh, subcode)
		return
	}
	c.vendorh[subcode] = h
}

// SetEventHandler sets the subscriber for events no handler claims.
func (c *Controller) SetEventHandler(f func(*hci.Event)) {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()
	c.eventHandler = f
}

// SetErrorHandler sets error handler
func (c *Controller) SetErrorHandler(f func(error)) {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()
	c.errorHandler = f
}

// Credits returns the number of commands the peer currently accepts.
func (c *Controller) Credits() int {
	c.muSent.Lock()
	defer c.muSent.Unlock()
	return c.credits
}

// Pending returns the number of outstanding commands.
func (c *Controller) Pending() int {
	c.muSent.Lock()
	defer c.muSent.Unlock()
	return len(c.sent)
}

// Send issues cmd and waits for its completion. A non-zero status is
// returned as hci.ErrCommand; otherwise the return parameters are
// unmarshalled into r when it is not nil.
func (c *Controller) Send(ctx context.Context, cmd Command, r CommandRP) error {
	b, err := c.send(ctx, cmd)
	if err != nil {
		return err
	}
	if len(b) > 0 && b[0] != 0x00 {
		return hci.ErrCommand(b[0])
	}
	if r != nil {
		return r.Unmarshal(b)
	}
	return nil
}

func (c *Controller) send(ctx context.Context, cmd Command) ([]byte, error) {
	select {
	case <-c.done:
		return nil, wbhci.ErrClosed
	default:
	}

	op := cmd.OpCode()
	params := make([]byte, cmd.Len())
	if err := cmd.Marshal(params); err != nil {
		return nil, errors.Wrapf(err, "can't marshal command 0x%04X", op)
	}

	p := &pkt{cmd: cmd, done: make(chan []byte, 1)}

	c.muSent.Lock()
	if _, ok := c.sent[op]; ok {
		c.muSent.Unlock()
		return nil, &wbhci.BusyError{OpCode: uint16(op), Reason: "command with this opcode pending"}
	}
	if c.credits == 0 {
		c.muSent.Unlock()
		return nil, &wbhci.BusyError{OpCode: uint16(op), Reason: "no command credit"}
	}
	c.credits--
	p.sent = time.Now()
	c.sent[op] = p
	c.muSent.Unlock()

	hp := &hci.Command{Type: c.cfg.CommandType, OpCode: uint16(op), Params: params}
	if err := c.t.Send(ctx, c.cfg.CommandClass, hp); err != nil {
		c.drop(op, true)
		return nil, err
	}
	c.log.Debugf("sent %v", cmd)

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case b := <-p.done:
		return b, nil
	case <-ctx.Done():
		// The caller gave up; the peer may never answer, so the credit
		// comes back now.
		c.drop(op, true)
		return nil, ctx.Err()
	case <-c.done:
		c.drop(op, false)
		return nil, wbhci.ErrClosed
	case <-timer.C:
		// The peer never answered; restore a credit so the channel stays
		// usable.
		c.drop(op, true)
		err := &wbhci.PeerTimeout{Op: fmt.Sprintf("command 0x%04X", op), After: c.cfg.CommandTimeout}
		c.log.Warnf("no response to %v", cmd)
		c.dispatchError(err)
		return nil, err
	}
}

func (c *Controller) drop(op int, restore bool) {
	c.muSent.Lock()
	delete(c.sent, op)
	if restore && c.credits == 0 {
		c.credits = 1
	}
	c.muSent.Unlock()
}

func (c *Controller) setAllowedCommands(n int) {
	if n > c.cfg.MaxCredits {
		c.log.Debugf("peer grants %d commands, capping at %d", n, c.cfg.MaxCredits)
		n = c.cfg.MaxCredits
	}
	c.muSent.Lock()
	c.credits = n
	c.muSent.Unlock()
}

// Reset clears a channel fault and resumes the event loop.
func (c *Controller) Reset() error {
	if err := c.t.Reset(c.cfg.EventClass); err != nil {
		return err
	}
	select {
	case c.reset <- struct{}{}:
	default:
	}
	return nil
}

func (c *Controller) loop() {
	defer close(c.loopDone)

	for {
		p, err := c.t.Receive(c.loopCtx, c.cfg.EventClass)
		switch {
		case err == nil:
		case errors.Cause(err) == wbhci.ErrClosed, c.loopCtx.Err() != nil:
			return
		case errors.Cause(err) == wbhci.ErrChannelFault:
			c.dispatchError(err)
			select {
			case <-c.reset:
				continue
			case <-c.done:
				return
			}
		default:
			c.dispatchError(errors.Wrap(err, "event loop"))
			return
		}

		e, ok := p.(*hci.Event)
		if !ok {
			c.log.Warnf("unexpected packet on event channel: %v", p)
			continue
		}
		if err := c.handleEvent(e); err != nil {
			c.dispatchError(err)
		}
	}
}

func (c *Controller) handleEvent(e *hci.Event) error {
	switch e.Code {
	case evt.CommandCompleteCode:
		return c.handleCommandComplete(e)
	case evt.CommandStatusCode:
		return c.handleCommandStatus(e)
	}

	if c.completes(e) {
		return nil
	}
	return c.dispatch(e)
}

func (c *Controller) handleCommandComplete(e *hci.Event) error {
	cc := evt.CommandComplete(e.Params)
	n, err := cc.NumHCICommandPacketsWErr()
	if err != nil {
		return errors.Wrapf(err, "invalid command complete: % X", e.Params)
	}
	c.setAllowedCommands(int(n))

	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	// no handling other than setAllowedCommands needed
	op, err := cc.CommandOpcodeWErr()
	if err != nil || op == 0x0000 {
		return nil
	}

	c.muSent.Lock()
	p, found := c.sent[int(op)]
	if found {
		delete(c.sent, int(op))
	}
	c.muSent.Unlock()

	if !found {
		c.log.Warnf("can't find the cmd for CommandComplete: % X", e.Params)
		return c.dispatch(e)
	}
	p.done <- cc.ReturnParameters()
	return nil
}

func (c *Controller) handleCommandStatus(e *hci.Event) error {
	cs := evt.CommandStatus(e.Params)
	if !cs.Valid() {
		return errors.Errorf("invalid command status: % X", e.Params)
	}
	c.setAllowedCommands(int(cs.NumHCICommandPackets()))

	op := int(cs.CommandOpcode())
	if op == 0x0000 {
		return nil
	}

	c.muSent.Lock()
	p, found := c.sent[op]
	if found {
		if cmp, ok := p.cmd.(Completer); ok && cs.Status() == 0x00 {
			// stays pending until its completion event
			p.awaiting = true
			p.code, p.handle = cmp.CompletionEvent()
			c.muSent.Unlock()
			return nil
		}
		delete(c.sent, op)
	}
	c.muSent.Unlock()

	if !found {
		c.log.Warnf("can't find the cmd for CommandStatus: % X", e.Params)
		return c.dispatch(e)
	}
	p.done <- []byte{cs.Status()}
	return nil
}

// completes resolves a command waiting for e as its completion event.
func (c *Controller) completes(e *hci.Event) bool {
	if len(e.Params) < 3 {
		return false
	}
	handle := uint16(e.Params[1]) | uint16(e.Params[2]&0x0f)<<8

	c.muSent.Lock()
	var p *pkt
	for op, s := range c.sent {
		if s.awaiting && s.code == e.Code && s.handle == handle {
			p = s
			delete(c.sent, op)
			break
		}
	}
	c.muSent.Unlock()

	if p == nil {
		return false
	}
	p.done <- []byte{e.Params[0]}
	return true
}

func (c *Controller) dispatch(e *hci.Event) error {
	c.muHandlers.RLock()
	h := c.evth[e.Code]
	if e.Code == evt.VendorCode {
		if vh := c.vendorh[evt.Vendor(e.Params).SubeventCode()]; vh != nil {
			h = vh
		}
	}
	general := c.eventHandler
	c.muHandlers.RUnlock()

	if h != nil {
		return h(e.Params)
	}
	if general != nil {
		general(e)
		return nil
	}
	c.log.Infof("unhandled event: %v", e)
	return nil
}

func (c *Controller) dispatchError(err error) {
	c.muHandlers.RLock()
	h := c.errorHandler
	c.muHandlers.RUnlock()

	select {
	case <-c.done:
		c.log.Debugf("closing: %v", err)
		return
	default:
	}
	if h == nil {
		c.log.Errorf("%v", err)
		return
	}
	h(err)
}
