package ipcc

// Registers is the IPCC register file as seen by one core.
//
// Set raises the core's outbound flag (CxSCR.CHnS), Clear acknowledges the
// inbound flag (CxSCR.CHnC). A set mask bit disables the corresponding
// interrupt (CxMR.CHnOM for RX occupied, CxMR.CHnFM for TX free).
type Registers interface {
	Status(d Direction) uint32
	Set(ch Channel)
	Clear(ch Channel)

	SetRxMask(ch Channel, masked bool)
	SetTxMask(ch Channel, masked bool)
	RxMask() uint32
	TxMask() uint32
}

// Hardware is a mailbox peripheral: the register view of each core and the
// interrupt lines their handlers are attached to. *Bank implements it.
type Hardware interface {
	Port(c Core) Registers
	Attach(c Core, rx, tx func()) error
}
