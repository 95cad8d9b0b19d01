package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/hci/cmd"
	"github.com/rigado/wbhci/hci/evt"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
	"github.com/stretchr/testify/require"
)

func hostOf(t *testing.T, b *Board) *transport.Transport {
	mux, err := tl.NewMux(b.Layout, b.Region, ipcc.CPU1)
	require.NoError(t, err)
	mbox := ipcc.New(ipcc.CPU1, b.Bank.Port(ipcc.CPU1))
	require.NoError(t, b.Bank.Attach(ipcc.CPU1, mbox.HandleRxIRQ, mbox.HandleTxIRQ))
	h, err := transport.New(mux, mbox, transport.DefaultConfig())
	require.NoError(t, err)
	return h
}

func ctxFor(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func receiveEvent(t *testing.T, h *transport.Transport, c tl.Class) *hci.Event {
	p, err := h.Receive(ctxFor(t), c)
	require.NoError(t, err)
	e, ok := p.(*hci.Event)
	require.True(t, ok, "got %v", p)
	return e
}

func command(t *testing.T, c interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}) *hci.Command {
	b := make([]byte, c.Len())
	require.NoError(t, c.Marshal(b))
	return &hci.Command{OpCode: uint16(c.OpCode()), Params: b}
}

func TestReadyEvent(t *testing.T) {
	for _, k := range []evt.FirmwareKind{evt.FirmwareWireless, evt.FirmwareFUS} {
		b, err := NewBoard(tl.DefaultLayout(), WithFirmware(k))
		require.NoError(t, err)
		h := hostOf(t, b)
		require.NoError(t, b.Coprocessor.Start())

		e := receiveEvent(t, h, tl.SysEvent)
		require.Equal(t, hci.PktTypeSysEvent, e.Type)
		require.Equal(t, uint8(evt.VendorCode), e.Code)
		require.Equal(t, []byte{0x00, 0x92}, e.Params[:2])
		kind, err := evt.CoprocessorReady(e.Params).KindWErr()
		require.NoError(t, err)
		require.Equal(t, k, kind)

		h.Close()
		b.Close()
	}
}

func TestCommandsBeforeInit(t *testing.T) {
	b, err := NewBoard(tl.DefaultLayout())
	require.NoError(t, err)
	defer b.Close()
	h := hostOf(t, b)
	defer h.Close()
	require.NoError(t, b.Coprocessor.Start())
	receiveEvent(t, h, tl.SysEvent)

	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, &cmd.SetEventMask{EventMask: 0xff})))
	cc := evt.CommandComplete(receiveEvent(t, h, tl.BleEvent).Params)
	require.Equal(t, uint16(0x0C01), cc.CommandOpcode())
	require.Equal(t, []byte{byte(hci.ErrCommandDisallowed)}, cc.ReturnParameters())

	// reset is always accepted
	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, &cmd.Reset{})))
	cc = evt.CommandComplete(receiveEvent(t, h, tl.BleEvent).Params)
	require.Equal(t, uint16(0x0C03), cc.CommandOpcode())
	require.Equal(t, []byte{0x00}, cc.ReturnParameters())
}

func TestBleInitAndConfig(t *testing.T) {
	b, err := NewBoard(tl.DefaultLayout())
	require.NoError(t, err)
	defer b.Close()
	h := hostOf(t, b)
	defer h.Close()
	require.NoError(t, b.Coprocessor.Start())
	receiveEvent(t, h, tl.SysEvent)

	bi := cmd.DefaultShciBleInit()
	sc := command(t, &bi)
	sc.Type = hci.PktTypeSysCommand
	require.NoError(t, h.Send(ctxFor(t), tl.SysCommand, sc))

	rsp := receiveEvent(t, h, tl.SysEvent)
	require.Equal(t, hci.PktTypeSysResponse, rsp.Type)
	cc := evt.CommandComplete(rsp.Params)
	require.Equal(t, uint16(0xFC66), cc.CommandOpcode())
	require.Equal(t, []byte{0x00}, cc.ReturnParameters())
	require.True(t, b.Coprocessor.BleReady())

	addr := [6]byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, cmd.PublicAddress(addr))))
	cc = evt.CommandComplete(receiveEvent(t, h, tl.BleEvent).Params)
	require.Equal(t, []byte{0x00}, cc.ReturnParameters())
	require.Equal(t, addr, b.Coprocessor.Config().PublicAddress)
	require.Equal(t, addr, b.Coprocessor.Address())

	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, &cmd.ReadBDADDR{})))
	cc = evt.CommandComplete(receiveEvent(t, h, tl.BleEvent).Params)
	var rp cmd.ReadBDADDRRP
	require.NoError(t, rp.Unmarshal(cc.ReturnParameters()))
	require.Equal(t, addr, rp.BDADDR)
}

func TestACLEcho(t *testing.T) {
	b, err := NewBoard(tl.DefaultLayout())
	require.NoError(t, err)
	defer b.Close()
	h := hostOf(t, b)
	defer h.Close()
	require.NoError(t, b.Coprocessor.Start())

	out := &hci.ACLData{Handle: 0x0040, PB: hci.PbfHostToControllerStart, Data: []byte("ping")}
	require.NoError(t, h.Send(ctxFor(t), tl.AclData, out))

	p, err := h.Receive(ctxFor(t), tl.AclData)
	require.NoError(t, err)
	in, ok := p.(*hci.ACLData)
	require.True(t, ok)
	require.Equal(t, uint16(0x0040), in.Handle)
	require.Equal(t, []byte("ping"), in.Data)

	e := receiveEvent(t, h, tl.BleEvent)
	require.Equal(t, uint8(evt.NumberOfCompletedPacketsCode), e.Code)
}

func TestMuteAndFailWith(t *testing.T) {
	b, err := NewBoard(tl.DefaultLayout())
	require.NoError(t, err)
	defer b.Close()
	h := hostOf(t, b)
	defer h.Close()
	require.NoError(t, b.Coprocessor.Start())

	op := uint16((&cmd.Reset{}).OpCode())
	b.Coprocessor.Mute(op, true)
	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, &cmd.Reset{})))
	require.Eventually(t, func() bool { return len(b.Coprocessor.Received()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Receive(ctx, tl.BleEvent)
	require.Equal(t, context.DeadlineExceeded, err)

	b.Coprocessor.Mute(op, false)
	b.Coprocessor.FailWith(op, byte(hci.ErrHardware))
	require.NoError(t, h.Send(ctxFor(t), tl.BleCommand, command(t, &cmd.Reset{})))
	cc := evt.CommandComplete(receiveEvent(t, h, tl.BleEvent).Params)
	require.Equal(t, []byte{byte(hci.ErrHardware)}, cc.ReturnParameters())
	require.Equal(t, []uint16{op, op}, b.Coprocessor.Received())
}
