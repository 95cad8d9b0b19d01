// Package h4 exposes the BLE channels of the co-processor as an HCI UART
// (H4) stream.
package h4

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/tl"
	"github.com/rigado/wbhci/transport"
)

// Stats counts bridged packets.
type Stats struct {
	ToController  uint64
	ToHost        uint64
	FramingErrors uint64
}

// Bridge forwards H4 frames between a byte stream and a transport. It must
// be the only consumer of the BLE event and ACL classes.
type Bridge struct {
	port io.ReadWriteCloser
	t    *transport.Transport
	log  wbhci.Logger
	asm  *assembler

	wmu   sync.Mutex
	stats Stats
}

// NewBridge returns a bridge between port and t.
func NewBridge(port io.ReadWriteCloser, t *transport.Transport) *Bridge {
	return &Bridge{
		port: port,
		t:    t,
		log:  wbhci.ComponentLogger("h4", nil),
		asm:  newAssembler(hci.DefaultLimits),
	}
}

// Run bridges until ctx ends or either side fails. It closes the port.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 3)
	go func() { errc <- b.fromHost(ctx) }()
	go func() { errc <- b.toHost(ctx, tl.BleEvent) }()
	go func() { errc <- b.toHost(ctx, tl.AclData) }()

	err := <-errc
	cancel()
	b.port.Close()
	for i := 0; i < 2; i++ {
		<-errc
	}
	if ctx.Err() != nil && errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ToController:  atomic.LoadUint64(&b.stats.ToController),
		ToHost:        atomic.LoadUint64(&b.stats.ToHost),
		FramingErrors: atomic.LoadUint64(&b.stats.FramingErrors),
	}
}

func (b *Bridge) fromHost(ctx context.Context) error {
	buf := make([]byte, 512)
	for {
		n, err := b.port.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if err == io.EOF {
				b.log.Info("host closed the stream")
				return err
			}
			return errors.Wrap(err, "can't read h4")
		}

		pp, errs := b.asm.Assemble(buf[:n])
		for _, e := range errs {
			atomic.AddUint64(&b.stats.FramingErrors, 1)
			b.log.Warnf("from host: %v", e)
		}
		for _, p := range pp {
			if err := b.forward(ctx, p); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) forward(ctx context.Context, p hci.Packet) error {
	c := tl.BleCommand
	if _, ok := p.(*hci.ACLData); ok {
		c = tl.AclData
	}
	if err := b.t.Send(ctx, c, p); err != nil {
		if wbhci.IsPeerTimeout(err) {
			b.log.Warnf("dropped %v: %v", p, err)
			return nil
		}
		return err
	}
	atomic.AddUint64(&b.stats.ToController, 1)
	return nil
}

func (b *Bridge) toHost(ctx context.Context, c tl.Class) error {
	for {
		p, err := b.t.Receive(ctx, c)
		if err != nil {
			return err
		}
		frame, err := hci.Encode(p)
		if err != nil {
			b.log.Warnf("can't encode %v: %v", p, err)
			continue
		}
		b.wmu.Lock()
		_, err = b.port.Write(frame)
		b.wmu.Unlock()
		if err != nil {
			return errors.Wrap(err, "can't write h4")
		}
		atomic.AddUint64(&b.stats.ToHost, 1)
	}
}

func isTimeout(err error) bool {
	t, ok := err.(interface{ Timeout() bool })
	return ok && t.Timeout()
}
