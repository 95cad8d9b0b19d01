package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/shm"
	"github.com/rigado/wbhci/tl"
	"github.com/stretchr/testify/require"
)

type pair struct {
	host, peer *Transport
	bank       *ipcc.Bank
}

func (p *pair) close() {
	p.host.Close()
	p.peer.Close()
	p.bank.Close()
}

func newPair(t *testing.T, hostCfg, peerCfg Config) *pair {
	l := tl.DefaultLayout()
	region := shm.NewRegion(l.RegionSize)
	bank := ipcc.NewBank()

	build := func(c ipcc.Core, cfg Config) *Transport {
		mux, err := tl.NewMux(l, region, c)
		require.NoError(t, err)
		mbox := ipcc.New(c, bank.Port(c))
		require.NoError(t, bank.Attach(c, mbox.HandleRxIRQ, mbox.HandleTxIRQ))
		tr, err := New(mux, mbox, cfg)
		require.NoError(t, err)
		return tr
	}

	host := build(ipcc.CPU1, hostCfg)
	host.Mux().ResetRings()
	peer := build(ipcc.CPU2, peerCfg)
	return &pair{host: host, peer: peer, bank: bank}
}

func withTimeout(d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	_ = cancel // released when the deadline fires
	return ctx
}

func TestSendReceiveCommand(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	reset := &hci.Command{OpCode: 0x0C03}
	require.NoError(t, p.host.Send(withTimeout(time.Second), tl.BleCommand, reset))
	require.Equal(t, AwaitingPeer, p.host.State(tl.BleCommand))

	got, err := p.peer.Receive(withTimeout(time.Second), tl.BleCommand)
	require.NoError(t, err)
	cmd, ok := got.(*hci.Command)
	require.True(t, ok)
	require.Equal(t, uint16(0x0C03), cmd.OpCode)

	// the peer acknowledges once it has drained the ring
	go p.peer.Receive(withTimeout(100*time.Millisecond), tl.BleCommand)
	require.Eventually(t, func() bool {
		return p.host.State(tl.BleCommand) == Idle
	}, time.Second, time.Millisecond)
}

func TestEventAndACLShareRing(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	ctx := withTimeout(time.Second)
	acl := &hci.ACLData{Handle: 0x40, PB: hci.PbfControllerToHostStart, Data: []byte{1, 2, 3}}
	evt := &hci.Event{Code: 0x0E, Params: []byte{0x01, 0x03, 0x0C, 0x00}}
	require.NoError(t, p.peer.Send(ctx, tl.BleEvent, acl))
	require.NoError(t, p.peer.Send(ctx, tl.BleEvent, evt))

	// the event receiver parks the ACL packet it reads first
	e, err := p.host.Receive(ctx, tl.BleEvent)
	require.NoError(t, err)
	require.Equal(t, uint8(0x0E), e.(*hci.Event).Code)
	require.Equal(t, Ready, p.host.State(tl.AclData))

	a, err := p.host.Receive(ctx, tl.AclData)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, a.(*hci.ACLData).Data)
}

func TestConcurrentReceiversOnSharedRing(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	ctx := withTimeout(2 * time.Second)
	acls := make(chan hci.Packet, 1)
	go func() {
		a, err := p.host.Receive(ctx, tl.AclData)
		if err == nil {
			acls <- a
		}
	}()
	evts := make(chan hci.Packet, 1)
	go func() {
		e, err := p.host.Receive(ctx, tl.BleEvent)
		if err == nil {
			evts <- e
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.peer.Send(ctx, tl.BleEvent, &hci.ACLData{Handle: 1, Data: []byte{9}}))
	require.NoError(t, p.peer.Send(ctx, tl.BleEvent, &hci.Event{Code: 0x05, Params: []byte{0, 1, 0, 0x13}}))

	select {
	case a := <-acls:
		require.Equal(t, []byte{9}, a.(*hci.ACLData).Data)
	case <-time.After(time.Second):
		t.Fatal("acl receiver starved")
	}
	select {
	case e := <-evts:
		require.Equal(t, uint8(0x05), e.(*hci.Event).Code)
	case <-time.After(time.Second):
		t.Fatal("event receiver starved")
	}
}

func TestOrderingUnderBackpressure(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	const n = 200
	ctx := withTimeout(5 * time.Second)
	errc := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			params := bytes.Repeat([]byte{byte(i)}, 100)
			if err := p.host.Send(ctx, tl.BleCommand, &hci.Command{OpCode: uint16(i), Params: params}); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	for i := 0; i < n; i++ {
		got, err := p.peer.Receive(ctx, tl.BleCommand)
		require.NoError(t, err)
		cmd := got.(*hci.Command)
		require.Equal(t, uint16(i), cmd.OpCode)
		require.Equal(t, byte(i), cmd.Params[99])
	}
	require.NoError(t, <-errc)
	require.Zero(t, p.peer.Stats().FramingErrors)
}

func TestCapacityError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = hci.Limits{MaxParams: hci.MaxParamLen, MaxACLData: 1000}
	p := newPair(t, cfg, DefaultConfig())
	defer p.close()

	err := p.host.Send(withTimeout(time.Second), tl.AclData, &hci.ACLData{Handle: 1, Data: make([]byte, 600)})
	require.True(t, wbhci.IsCapacityError(err), "%v", err)
	require.Zero(t, p.host.Stats().Sent)
}

func TestPartialLimitsAreNormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = hci.Limits{MaxParams: 300, MaxACLData: 1021}
	p := newPair(t, cfg, DefaultConfig())
	defer p.close()

	err := p.host.Send(withTimeout(time.Second), tl.BleCommand, &hci.Command{OpCode: 0x0C03, Params: make([]byte, 300)})
	require.Error(t, err)
	require.Zero(t, p.host.Stats().Sent)

	params := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, p.host.Send(withTimeout(time.Second), tl.BleCommand, &hci.Command{OpCode: 0x0C01, Params: params}))
	got, err := p.peer.Receive(withTimeout(time.Second), tl.BleCommand)
	require.NoError(t, err)
	require.Equal(t, params, got.(*hci.Command).Params)
}

func TestSendRejectsWrongClass(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	ctx := withTimeout(time.Second)
	require.Error(t, p.host.Send(ctx, tl.BleCommand, &hci.ACLData{Handle: 1}))
	require.True(t, wbhci.IsConfigurationError(p.host.Send(ctx, tl.BleEvent, &hci.Event{Code: 1})))
	_, err := p.host.Receive(ctx, tl.BleCommand)
	require.True(t, wbhci.IsConfigurationError(err))
}

func TestPeerTimeoutLeavesChannelUsable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	p := newPair(t, cfg, DefaultConfig())
	defer p.close()

	ctx := withTimeout(2 * time.Second)
	big := &hci.Command{OpCode: 0xFC00, Params: make([]byte, 200)}
	sent := 0
	var err error
	for i := 0; i < 10; i++ {
		if err = p.host.Send(ctx, tl.BleCommand, big); err != nil {
			break
		}
		sent++
	}
	require.True(t, wbhci.IsPeerTimeout(err), "%v", err)
	require.Equal(t, 2, sent)

	for i := 0; i < sent; i++ {
		_, err := p.peer.Receive(ctx, tl.BleCommand)
		require.NoError(t, err)
	}
	require.NoError(t, p.host.Send(ctx, tl.BleCommand, big))
}

func TestSendRaisesAgainOverUnreadData(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	ctx := withTimeout(2 * time.Second)
	big := &hci.Command{OpCode: 0xFC00, Params: make([]byte, 200)}
	require.NoError(t, p.host.Send(ctx, tl.BleCommand, big))
	require.NoError(t, p.host.Send(ctx, tl.BleCommand, big))

	// the peer acknowledges while both frames are still in the ring
	require.NoError(t, p.peer.Mailbox().Clear(ipcc.Channel1, ipcc.CPU1ToCPU2))

	errc := make(chan error, 1)
	go func() { errc <- p.host.Send(ctx, tl.BleCommand, big) }()

	require.Eventually(t, func() bool {
		return p.host.Stats().Renotified == 1
	}, time.Second, time.Millisecond)
	require.True(t, p.host.Mailbox().IsSet(ipcc.Channel1, ipcc.CPU1ToCPU2))

	for i := 0; i < 3; i++ {
		_, err := p.peer.Receive(ctx, tl.BleCommand)
		require.NoError(t, err)
	}
	require.NoError(t, <-errc)
	require.Equal(t, uint64(3), p.host.Stats().Sent)
}

func TestReceiveCancelKeepsPartialFrame(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	frame, err := hci.Encode(&hci.Event{Code: 0x0E, Params: []byte{0x01, 0x03, 0x0C, 0x00}})
	require.NoError(t, err)
	require.NoError(t, p.peer.WriteRaw(tl.BleEvent, frame[:3]))

	_, err = p.host.Receive(withTimeout(30*time.Millisecond), tl.BleEvent)
	require.Equal(t, context.DeadlineExceeded, err)
	require.False(t, p.host.Mailbox().Waiters().Waiting(ipcc.Channel1, ipcc.CPU2ToCPU1))

	require.NoError(t, p.peer.WriteRaw(tl.BleEvent, frame[3:]))
	got, err := p.host.Receive(withTimeout(time.Second), tl.BleEvent)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x03, 0x0C, 0x00}, got.(*hci.Event).Params)
}

func TestFramingErrorsFaultChannel(t *testing.T) {
	var reported error
	cfg := DefaultConfig()
	cfg.MaxFramingErrors = 2
	cfg.ErrorHandler = func(err error) { reported = err }
	p := newPair(t, cfg, DefaultConfig())
	defer p.close()

	ctx := withTimeout(time.Second)
	// bad indicator, then an ACL header declaring 0xFFFF bytes
	require.NoError(t, p.peer.WriteRaw(tl.BleEvent, []byte{0x55, 0x02, 0x00, 0x00, 0xFF, 0xFF}))

	_, err := p.host.Receive(ctx, tl.BleEvent)
	require.Equal(t, wbhci.ErrChannelFault, errors.Cause(err))
	require.NotNil(t, reported)
	require.True(t, p.host.Faulted(tl.BleEvent))
	require.Equal(t, uint64(2), p.host.Stats().FramingErrors)

	// the command direction of the same channel is faulted too
	err = p.host.Send(ctx, tl.BleCommand, &hci.Command{OpCode: 0x0C03})
	require.Equal(t, wbhci.ErrChannelFault, errors.Cause(err))

	require.NoError(t, p.host.Reset(tl.BleEvent))
	require.NoError(t, p.peer.Send(ctx, tl.BleEvent, &hci.Event{Code: 0x10, Params: []byte{0x01}}))
	got, err := p.host.Receive(ctx, tl.BleEvent)
	require.NoError(t, err)
	require.Equal(t, uint8(0x10), got.(*hci.Event).Code)
}

func TestSingleFramingErrorRecovers(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.close()

	ctx := withTimeout(time.Second)
	frame, _ := hci.Encode(&hci.Event{Code: 0x13, Params: []byte{0x00}})
	require.NoError(t, p.peer.WriteRaw(tl.BleEvent, append([]byte{0x77, 0x66}, frame...)))

	got, err := p.host.Receive(ctx, tl.BleEvent)
	require.NoError(t, err)
	require.Equal(t, uint8(0x13), got.(*hci.Event).Code)
	require.Equal(t, uint64(1), p.host.Stats().FramingErrors)
	require.False(t, p.host.Faulted(tl.BleEvent))
}

func TestSysEventRewrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RewriteSysEvents = true
	p := newPair(t, cfg, DefaultConfig())
	defer p.close()

	ctx := withTimeout(time.Second)
	ready := &hci.Event{Type: hci.PktTypeSysEvent, Code: 0xFF, Params: []byte{0x00, 0x92, 0x00}}
	require.NoError(t, p.peer.Send(ctx, tl.SysEvent, ready))

	got, err := p.host.Receive(ctx, tl.SysEvent)
	require.NoError(t, err)
	require.Equal(t, hci.PktTypeEvent, got.Indicator())
}

func TestReceiveStateAndClose(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	defer p.bank.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := p.host.Receive(context.Background(), tl.SysEvent)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return p.host.State(tl.SysEvent) == AwaitingPeer
	}, time.Second, time.Millisecond)

	p.host.Close()
	select {
	case err := <-errc:
		require.Equal(t, wbhci.ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("receive not woken by close")
	}
	p.peer.Close()
}
