package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/tl"
)

// State of one traffic class.
type State uint8

const (
	// Idle: nothing in flight.
	Idle State = iota
	// AwaitingPeer: a frame was written and the peer has not acknowledged
	// it yet, or a reader is suspended waiting for data.
	AwaitingPeer
	// Ready: inbound data is available to read.
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPeer:
		return "awaiting-peer"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Config tunes a Transport.
type Config struct {
	// SendTimeout bounds how long Send waits for the peer to free ring
	// space. Zero leaves it to the caller's context.
	SendTimeout time.Duration

	// MaxReadChunk caps the bytes taken from a ring per poll.
	MaxReadChunk int

	// MaxFramingErrors consecutive framing errors fault the channel.
	MaxFramingErrors int

	// QueueDepth bounds the packets parked per class.
	QueueDepth int

	Limits hci.Limits

	// RewriteSysEvents delivers system events with the plain event
	// indicator.
	RewriteSysEvents bool

	// ErrorHandler is told about channel faults.
	ErrorHandler func(error)
}

// DefaultConfig returns the settings used by the device.
func DefaultConfig() Config {
	return Config{
		SendTimeout:      time.Second,
		MaxReadChunk:     128,
		MaxFramingErrors: 8,
		QueueDepth:       32,
		Limits:           hci.DefaultLimits,
	}
}

// Stats counts transport activity.
type Stats struct {
	Sent          uint64
	Received      uint64
	FramingErrors uint64
	Dropped       uint64
	PeerTimeouts  uint64
	Renotified    uint64 // flags raised again for unread ring data
}

// Transport is the task-side send/receive API over the mailbox and the
// shared rings of one core.
type Transport struct {
	mux  *tl.Mux
	mbox *ipcc.Mailbox
	cfg  Config
	log  wbhci.Logger

	readers  map[tl.Class]*reader // by served class
	queues   map[tl.Class]*queue
	muFaults sync.Mutex
	faults   [ipcc.NumChannels + 1]bool

	done      chan struct{}
	closeOnce sync.Once

	stats Stats
}

// reader is the consumer side of one inbound ring.
type reader struct {
	b     *tl.Binding
	dec   *hci.Decoder
	chunk []byte

	mu          sync.Mutex
	consecutive int
	needReset   bool
}

// New builds a transport for the core of mux. The mailbox interrupt handlers
// must be attached to the register bank by the caller; New enables the RX
// interrupt of every inbound channel.
func New(mux *tl.Mux, mbox *ipcc.Mailbox, cfg Config) (*Transport, error) {
	if mux.Core() != mbox.Core() {
		return nil, wbhci.Configf("transport", "mux is %v, mailbox is %v", mux.Core(), mbox.Core())
	}
	def := DefaultConfig()
	if cfg.MaxReadChunk <= 0 {
		cfg.MaxReadChunk = def.MaxReadChunk
	}
	if cfg.MaxFramingErrors <= 0 {
		cfg.MaxFramingErrors = def.MaxFramingErrors
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	cfg.Limits = cfg.Limits.Normalize()

	t := &Transport{
		mux:     mux,
		mbox:    mbox,
		cfg:     cfg,
		log:     wbhci.ComponentLogger("transport", map[string]interface{}{"core": mux.Core().String()}),
		readers: map[tl.Class]*reader{},
		queues:  map[tl.Class]*queue{},
		done:    make(chan struct{}),
	}

	for _, b := range mux.Bindings() {
		t.queues[b.Class] = newQueue(cfg.QueueDepth)
		if b.Outbound {
			continue
		}
		r := &reader{
			b:     b,
			dec:   hci.NewDecoder(cfg.Limits, b.Class.Indicators()...),
			chunk: make([]byte, cfg.MaxReadChunk),
		}
		for _, ind := range b.Class.Indicators() {
			t.readers[tl.Route(b.Class, ind)] = r
		}
		mbox.EnableRx(b.Channel, true)
	}
	return t, nil
}

// Mux returns the channel multiplexer.
func (t *Transport) Mux() *tl.Mux {
	return t.mux
}

// Mailbox returns the mailbox driver.
func (t *Transport) Mailbox() *ipcc.Mailbox {
	return t.mbox
}

// Close wakes every suspended call with wbhci.ErrClosed.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		for _, b := range t.mux.Bindings() {
			if b.Outbound {
				t.mbox.EnableTx(b.Channel, false)
			} else {
				t.mbox.EnableRx(b.Channel, false)
			}
		}
	})
	return nil
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Send writes p to the ring of class c and signals the peer. It suspends
// only while the ring lacks space.
func (t *Transport) Send(ctx context.Context, c tl.Class, p hci.Packet) error {
	b, err := t.mux.Bind(c)
	if err != nil {
		return err
	}
	if !b.Outbound {
		return wbhci.Configf(c.String(), "class is inbound on %v", t.mux.Core())
	}
	if !accepts(c, p.Indicator()) {
		return errors.Errorf("%v packet can't be sent as %v", p.Indicator(), c)
	}
	if t.closed() {
		return wbhci.ErrClosed
	}
	if err := t.fault(b.Channel); err != nil {
		return err
	}

	frame, err := hci.AppendPacket(make([]byte, 0, p.WireLen()), p, t.cfg.Limits)
	if err != nil {
		return err
	}
	if len(frame) > b.Ring.Cap() {
		return &wbhci.CapacityError{Class: c.String(), Size: len(frame), Capacity: b.Ring.Cap()}
	}

	sctx := ctx
	if t.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, t.cfg.SendTimeout)
		defer cancel()
	}

	if err := b.Acquire(sctx); err != nil {
		return t.sendErr(ctx, c, err)
	}
	defer b.Release()

	waited := false
	for {
		if b.Ring.TryWrite(frame) {
			if waited {
				t.mbox.EnableTx(b.Channel, false)
			}
			atomic.AddUint64(&t.stats.Sent, 1)
			return t.mbox.Raise(b.Channel, b.Direction)
		}
		waited = true

		w, err := t.mbox.Waiters().Register(b.Channel, b.Direction)
		if err != nil {
			return err
		}
		// A clear flag over unread data would fire TX-free at once without
		// the peer ever freeing space. Tell the peer again instead.
		if !t.mbox.IsSet(b.Channel, b.Direction) && b.Ring.Len() > 0 {
			if err := t.mbox.Raise(b.Channel, b.Direction); err != nil {
				w.Deregister()
				return err
			}
			atomic.AddUint64(&t.stats.Renotified, 1)
			t.log.Debugf("%v: peer acknowledged with %d bytes unread, raising again", c, b.Ring.Len())
		}
		t.mbox.EnableTx(b.Channel, true)
		if b.Ring.Free() >= len(frame) {
			w.Deregister()
			continue
		}

		t.log.Debugf("%v: ring full (%d free, need %d), waiting for peer", c, b.Ring.Free(), len(frame))
		select {
		case <-w.C():
			w.Deregister()
		case <-t.done:
			w.Deregister()
			return wbhci.ErrClosed
		case <-sctx.Done():
			w.Deregister()
			t.mbox.EnableTx(b.Channel, false)
			return t.sendErr(ctx, c, sctx.Err())
		}
	}
}

func (t *Transport) sendErr(ctx context.Context, c tl.Class, err error) error {
	if err == context.DeadlineExceeded && ctx.Err() == nil {
		atomic.AddUint64(&t.stats.PeerTimeouts, 1)
		t.log.Warnf("%v: peer did not free ring space within %v", c, t.cfg.SendTimeout)
		return &wbhci.PeerTimeout{Op: "send " + c.String(), After: t.cfg.SendTimeout}
	}
	return err
}

// Receive returns the next packet of class c. Packets of other classes that
// share the ring are parked for their own receivers. Cancelling ctx leaves
// any partial frame buffered for the next call.
func (t *Transport) Receive(ctx context.Context, c tl.Class) (hci.Packet, error) {
	r, ok := t.readers[c]
	if !ok {
		return nil, wbhci.Configf(c.String(), "class is not received on %v", t.mux.Core())
	}
	q := t.queues[c]

	for {
		if err := t.fault(r.b.Channel); err != nil {
			return nil, err
		}
		if p, ok := q.pop(); ok {
			return p, nil
		}

		select {
		case <-t.done:
			return nil, wbhci.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
			continue
		case r.b.Token() <- struct{}{}:
		}

		// a packet may have been parked before the token changed hands
		if p, ok := q.pop(); ok {
			r.b.Release()
			return p, nil
		}
		p, err := t.pump(ctx, r, c)
		r.b.Release()
		return p, err
	}
}

// pump runs the drain protocol on r until a packet of class want is decoded.
// The caller holds r's token.
func (t *Transport) pump(ctx context.Context, r *reader, want tl.Class) (hci.Packet, error) {
	ch, dir := r.b.Channel, r.b.Direction

	for {
		if err := t.fault(ch); err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.needReset {
			r.dec.Reset()
			r.needReset = false
		}
		r.mu.Unlock()

		p, err := r.dec.Next()
		switch {
		case err == nil:
			r.mu.Lock()
			r.consecutive = 0
			r.mu.Unlock()
			atomic.AddUint64(&t.stats.Received, 1)

			cls := tl.Route(r.b.Class, p.Indicator())
			p = t.rewrite(p)
			if cls == want {
				return p, nil
			}
			if t.queues[cls].push(p) {
				atomic.AddUint64(&t.stats.Dropped, 1)
				t.log.Warnf("%v: queue full, dropped oldest packet", cls)
			}
			continue

		case hci.IsFramingError(err):
			if ferr := t.framingError(r, err); ferr != nil {
				return nil, ferr
			}
			continue

		case err != hci.ErrNeedMore:
			return nil, err
		}

		if n := r.b.Ring.ReadInto(r.chunk); n > 0 {
			r.dec.Write(r.chunk[:n])
			continue
		}

		// Ring drained: acknowledge, re-arm, then look again before sleeping.
		if t.mbox.IsSet(ch, dir) {
			if err := t.mbox.Clear(ch, dir); err != nil {
				return nil, err
			}
		}
		t.mbox.EnableRx(ch, true)
		if r.b.Ring.Len() > 0 {
			continue
		}

		w, err := t.mbox.Waiters().Register(ch, dir)
		if err != nil {
			return nil, err
		}
		if r.b.Ring.Len() > 0 {
			w.Deregister()
			continue
		}

		select {
		case <-w.C():
			w.Deregister()
		case <-t.done:
			w.Deregister()
			return nil, wbhci.ErrClosed
		case <-ctx.Done():
			w.Deregister()
			return nil, ctx.Err()
		}
	}
}

func (t *Transport) framingError(r *reader, err error) error {
	atomic.AddUint64(&t.stats.FramingErrors, 1)

	r.mu.Lock()
	r.consecutive++
	n := r.consecutive
	r.mu.Unlock()

	t.log.Warnf("%v: %v", r.b.Class, err)
	if n < t.cfg.MaxFramingErrors {
		return nil
	}

	t.muFaults.Lock()
	t.faults[r.b.Channel] = true
	t.muFaults.Unlock()

	ferr := errors.Wrapf(wbhci.ErrChannelFault, "%v: %d consecutive framing errors", r.b.Channel, n)
	t.log.Errorf("%v", ferr)
	if t.cfg.ErrorHandler != nil {
		t.cfg.ErrorHandler(ferr)
	}
	return ferr
}

func (t *Transport) fault(ch ipcc.Channel) error {
	t.muFaults.Lock()
	defer t.muFaults.Unlock()
	if t.faults[ch] {
		return errors.Wrapf(wbhci.ErrChannelFault, "%v", ch)
	}
	return nil
}

// Reset clears a channel fault on the channel of class c. Buffered partial
// frames on that channel are discarded.
func (t *Transport) Reset(c tl.Class) error {
	b, err := t.mux.Bind(c)
	if err != nil {
		return err
	}

	t.muFaults.Lock()
	t.faults[b.Channel] = false
	t.muFaults.Unlock()

	for _, r := range t.readers {
		if r.b.Channel != b.Channel {
			continue
		}
		r.mu.Lock()
		r.consecutive = 0
		r.needReset = true
		r.mu.Unlock()
	}
	t.log.Infof("%v: channel reset", b.Channel)
	return nil
}

// Faulted reports whether the channel of class c is faulted.
func (t *Transport) Faulted(c tl.Class) bool {
	b, err := t.mux.Bind(c)
	if err != nil {
		return false
	}
	return t.fault(b.Channel) != nil
}

// State reports the state of class c. A class that is both sent and
// received on this core, such as ACL data, reports its inbound side first.
func (t *Transport) State(c tl.Class) State {
	if r, ok := t.readers[c]; ok {
		if t.queues[c].len() > 0 || r.b.Ring.Len() > 0 {
			return Ready
		}
		if t.mbox.Waiters().Waiting(r.b.Channel, r.b.Direction) {
			return AwaitingPeer
		}
	}
	b, err := t.mux.Bind(c)
	if err == nil && b.Outbound && t.mbox.IsSet(b.Channel, b.Direction) {
		return AwaitingPeer
	}
	return Idle
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:          atomic.LoadUint64(&t.stats.Sent),
		Received:      atomic.LoadUint64(&t.stats.Received),
		FramingErrors: atomic.LoadUint64(&t.stats.FramingErrors),
		Dropped:       atomic.LoadUint64(&t.stats.Dropped),
		PeerTimeouts:  atomic.LoadUint64(&t.stats.PeerTimeouts),
	}
}

// WriteRaw places raw bytes on the ring of class c and signals the peer.
// Used to inject faults.
func (t *Transport) WriteRaw(c tl.Class, raw []byte) error {
	b, err := t.mux.Bind(c)
	if err != nil {
		return err
	}
	if !b.Outbound {
		return wbhci.Configf(c.String(), "class is inbound on %v", t.mux.Core())
	}
	if !b.TryAcquire() {
		return &wbhci.BusyError{Reason: c.String() + " writer busy"}
	}
	defer b.Release()
	if !b.Ring.TryWrite(raw) {
		return &wbhci.CapacityError{Class: c.String(), Size: len(raw), Capacity: b.Ring.Free()}
	}
	return t.mbox.Raise(b.Channel, b.Direction)
}

func (t *Transport) rewrite(p hci.Packet) hci.Packet {
	if !t.cfg.RewriteSysEvents {
		return p
	}
	if e, ok := p.(*hci.Event); ok && e.Type == hci.PktTypeSysEvent {
		e.Type = hci.PktTypeEvent
	}
	return p
}

func accepts(c tl.Class, ind hci.PacketType) bool {
	for _, i := range c.Indicators() {
		if i == ind {
			return true
		}
	}
	return false
}
