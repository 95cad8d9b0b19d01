package ipcc

import (
	"sync/atomic"

	"github.com/rigado/wbhci"
)

// Stats counts mailbox activity.
type Stats struct {
	RxInterrupts  uint64
	TxInterrupts  uint64
	Notifications uint64
	Coalesced     uint64
}

// Mailbox drives the IPCC on behalf of one core.
type Mailbox struct {
	core    Core
	regs    Registers
	waiters *Waiters
	log     wbhci.Logger

	rxIRQ, txIRQ  uint64
	notifications uint64
	coalesced     uint64
}

// New returns a mailbox for core c. All interrupts start disabled.
func New(c Core, regs Registers) *Mailbox {
	return &Mailbox{
		core:    c,
		regs:    regs,
		waiters: newWaiters(),
		log:     wbhci.ComponentLogger("ipcc", map[string]interface{}{"core": c.String()}),
	}
}

// Core is the core this mailbox runs on.
func (m *Mailbox) Core() Core {
	return m.core
}

// Waiters is the wakeup registry fed by the interrupt handlers.
func (m *Mailbox) Waiters() *Waiters {
	return m.waiters
}

// Raise sets the flag of ch in direction d. Only the outbound direction can
// be raised. Raising an already set flag has no effect.
func (m *Mailbox) Raise(ch Channel, d Direction) error {
	if !ch.Valid() {
		return wbhci.Configf("raise", "invalid channel %v", ch)
	}
	if d != m.core.Outbound() {
		return wbhci.Configf("raise", "%v cannot raise %v", m.core, d)
	}
	m.regs.Set(ch)
	return nil
}

// IsSet polls the flag of ch in direction d.
func (m *Mailbox) IsSet(ch Channel, d Direction) bool {
	if !ch.Valid() || !d.Valid() {
		return false
	}
	return m.regs.Status(d)&ch.bit() != 0
}

// Clear acknowledges the inbound flag of ch, telling the peer its data has
// been consumed.
func (m *Mailbox) Clear(ch Channel, d Direction) error {
	if !ch.Valid() {
		return wbhci.Configf("clear", "invalid channel %v", ch)
	}
	if d != m.core.Inbound() {
		return wbhci.Configf("clear", "%v cannot clear %v", m.core, d)
	}
	m.regs.Clear(ch)
	return nil
}

// EnableRx unmasks or masks the RX-occupied interrupt of ch.
func (m *Mailbox) EnableRx(ch Channel, enabled bool) {
	m.regs.SetRxMask(ch, !enabled)
}

// EnableTx unmasks or masks the TX-free interrupt of ch.
func (m *Mailbox) EnableTx(ch Channel, enabled bool) {
	m.regs.SetTxMask(ch, !enabled)
}

func (m *Mailbox) RxEnabled(ch Channel) bool {
	return m.regs.RxMask()&ch.bit() == 0
}

func (m *Mailbox) TxEnabled(ch Channel) bool {
	return m.regs.TxMask()&ch.bit() == 0
}

// IsRxPending reports an inbound flag with its interrupt enabled.
func (m *Mailbox) IsRxPending(ch Channel) bool {
	return m.IsSet(ch, m.core.Inbound()) && m.RxEnabled(ch)
}

// IsTxPending reports a cleared outbound flag with its interrupt enabled.
func (m *Mailbox) IsTxPending(ch Channel) bool {
	return !m.IsSet(ch, m.core.Outbound()) && m.TxEnabled(ch)
}

// HandleRxIRQ services the RX-occupied line. Every signalling channel gets
// its interrupt masked once and its waiter signalled; the status is read
// again until no enabled channel is pending, so a flag raised while the
// handler runs is not missed. The task that drains the ring clears the flag
// and re-enables the interrupt.
func (m *Mailbox) HandleRxIRQ() {
	atomic.AddUint64(&m.rxIRQ, 1)
	in := m.core.Inbound()
	for {
		pending := m.regs.Status(in) &^ m.regs.RxMask() & allChannels
		if pending == 0 {
			return
		}
		for ch := Channel1; ch <= Channel6; ch++ {
			if pending&ch.bit() == 0 {
				continue
			}
			m.regs.SetRxMask(ch, true)
			m.notify(ch, in)
		}
	}
}

// HandleTxIRQ services the TX-free line: the peer has cleared one of our
// outbound flags.
func (m *Mailbox) HandleTxIRQ() {
	atomic.AddUint64(&m.txIRQ, 1)
	out := m.core.Outbound()
	for {
		pending := ^m.regs.Status(out) &^ m.regs.TxMask() & allChannels
		if pending == 0 {
			return
		}
		for ch := Channel1; ch <= Channel6; ch++ {
			if pending&ch.bit() == 0 {
				continue
			}
			m.regs.SetTxMask(ch, true)
			m.notify(ch, out)
		}
	}
}

func (m *Mailbox) notify(ch Channel, d Direction) {
	if m.waiters.Signal(ch, d) {
		atomic.AddUint64(&m.notifications, 1)
	} else {
		atomic.AddUint64(&m.coalesced, 1)
		m.log.Debugf("%v %v: notification coalesced", ch, d)
	}
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		RxInterrupts:  atomic.LoadUint64(&m.rxIRQ),
		TxInterrupts:  atomic.LoadUint64(&m.txIRQ),
		Notifications: atomic.LoadUint64(&m.notifications),
		Coalesced:     atomic.LoadUint64(&m.coalesced),
	}
}
