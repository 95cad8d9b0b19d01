package ipcc

import (
	"sync"

	"github.com/rigado/wbhci"
)

const (
	lineRx = 0 // RX occupied
	lineTx = 1 // TX free
)

var lineNames = [2]string{"rx-occupied", "tx-free"}

// Bank is an in-memory IPCC shared by both cores. It models the status and
// mask registers and the two level-triggered interrupt lines of each core.
//
// Interrupt handlers run on one goroutine per line, so a handler never runs
// concurrently with itself but does run concurrently with task code.
type Bank struct {
	mu     sync.Mutex
	status [2]uint32 // by Direction
	rxMask [2]uint32 // by Core, set bit = masked
	txMask [2]uint32

	lines [2][2]*line // [Core][lineRx/lineTx]

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewBank returns a bank in its reset state: all flags clear, all
// interrupts masked.
func NewBank() *Bank {
	return &Bank{
		rxMask: [2]uint32{allChannels, allChannels},
		txMask: [2]uint32{allChannels, allChannels},
		done:   make(chan struct{}),
	}
}

// Port returns the register view of core c.
func (b *Bank) Port(c Core) Registers {
	return &port{b: b, core: c}
}

// Attach connects the RX-occupied and TX-free interrupt handlers of core c.
// A nil handler leaves the line as it is. A line takes one handler for the
// life of the bank; attaching to a connected line fails and connects nothing.
func (b *Bank) Attach(c Core, rx, tx func()) error {
	if c != CPU1 && c != CPU2 {
		return wbhci.Configf("attach", "invalid core %v", c)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := []func(){rx, tx}
	for i, h := range handlers {
		if h != nil && b.lines[c][i] != nil {
			return wbhci.Configf("attach", "%v %s line already has a handler", c, lineNames[i])
		}
	}
	for i, h := range handlers {
		if h == nil {
			continue
		}
		core, idx := c, i
		l := &line{
			kick:    make(chan struct{}, 1),
			handler: h,
			level:   func() bool { return b.level(core, idx) },
		}
		b.lines[c][i] = l
		b.wg.Add(1)
		go l.run(b.done, &b.wg)
	}
	b.evaluate()
	return nil
}

// Close stops the interrupt goroutines.
func (b *Bank) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Bank) level(c Core, idx int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asserted(c, idx)
}

// asserted must be called with b.mu held.
func (b *Bank) asserted(c Core, idx int) bool {
	switch idx {
	case lineRx:
		return b.status[c.Inbound()]&^b.rxMask[c]&allChannels != 0
	default:
		return ^b.status[c.Outbound()]&^b.txMask[c]&allChannels != 0
	}
}

// evaluate must be called with b.mu held.
func (b *Bank) evaluate() {
	for c := range b.lines {
		for idx, l := range b.lines[c] {
			if l != nil && b.asserted(Core(c), idx) {
				l.pend()
			}
		}
	}
}

type line struct {
	kick    chan struct{}
	handler func()
	level   func() bool
}

func (l *line) pend() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *line) run(done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-done:
			return
		case <-l.kick:
		}

		l.handler()

		// level triggered: a handler that leaves the condition in place is
		// entered again
		if l.level() {
			l.pend()
		}
	}
}

type port struct {
	b    *Bank
	core Core
}

func (p *port) Status(d Direction) uint32 {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.status[d]
}

func (p *port) Set(ch Channel) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.status[p.core.Outbound()] |= ch.bit()
	p.b.evaluate()
}

func (p *port) Clear(ch Channel) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.status[p.core.Inbound()] &^= ch.bit()
	p.b.evaluate()
}

func (p *port) SetRxMask(ch Channel, masked bool) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	setBit(&p.b.rxMask[p.core], ch.bit(), masked)
	p.b.evaluate()
}

func (p *port) SetTxMask(ch Channel, masked bool) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	setBit(&p.b.txMask[p.core], ch.bit(), masked)
	p.b.evaluate()
}

func (p *port) RxMask() uint32 {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.rxMask[p.core]
}

func (p *port) TxMask() uint32 {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.txMask[p.core]
}

func setBit(w *uint32, bit uint32, on bool) {
	if on {
		*w |= bit
	} else {
		*w &^= bit
	}
}
