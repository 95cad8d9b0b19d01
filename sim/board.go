package sim

import (
	"github.com/pkg/errors"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/shm"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
)

// Board is a simulated STM32WB: the IPCC, the shared SRAM and the radio
// co-processor running on CPU2. The host side is built on Bank and Region.
type Board struct {
	Bank        *ipcc.Bank
	Region      *shm.Region
	Layout      tl.Layout
	Coprocessor *Coprocessor

	peer *transport.Transport
}

// NewBoard lays out the shared memory and wires the co-processor side. The
// co-processor is not started.
func NewBoard(l tl.Layout, opts ...Option) (*Board, error) {
	return NewBoardWithRegion(l, shm.NewRegion(l.RegionSize), opts...)
}

// NewBoardWithRegion is NewBoard over an existing region, such as a mapped
// file shared with another process.
func NewBoardWithRegion(l tl.Layout, region *shm.Region, opts ...Option) (*Board, error) {
	bank := ipcc.NewBank()

	mux, err := tl.NewMux(l, region, ipcc.CPU2)
	if err != nil {
		bank.Close()
		return nil, err
	}
	mux.ResetRings()

	mbox := ipcc.New(ipcc.CPU2, bank.Port(ipcc.CPU2))
	if err := bank.Attach(ipcc.CPU2, mbox.HandleRxIRQ, mbox.HandleTxIRQ); err != nil {
		bank.Close()
		return nil, err
	}

	t, err := transport.New(mux, mbox, transport.DefaultConfig())
	if err != nil {
		bank.Close()
		return nil, errors.Wrap(err, "can't build co-processor transport")
	}

	return &Board{
		Bank:        bank,
		Region:      region,
		Layout:      l,
		Coprocessor: New(t, opts...),
		peer:        t,
	}, nil
}

// Peer returns the co-processor side transport.
func (b *Board) Peer() *transport.Transport {
	return b.peer
}

// Close stops the co-processor and the interrupt lines.
func (b *Board) Close() {
	b.Coprocessor.Close()
	b.peer.Close()
	b.Bank.Close()
	b.Region.Close()
}
