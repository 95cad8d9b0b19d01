package tl

import (
	"context"

	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/ipcc"
	"github.com/rigado/wbhci/shm"
)

// Binding ties a traffic class to its ring and mailbox channel as seen from
// one core.
type Binding struct {
	Class     Class
	Channel   ipcc.Channel
	Direction ipcc.Direction
	Ring      *shm.Ring

	// Outbound is true when the local core produces into Ring.
	Outbound bool

	token chan struct{}
}

// Acquire takes the binding's exclusive token. For an outbound binding the
// holder is the ring's only writer; for an inbound one, its only reader.
func (b *Binding) Acquire(ctx context.Context) error {
	select {
	case b.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the token if it is free.
func (b *Binding) TryAcquire() bool {
	select {
	case b.token <- struct{}{}:
		return true
	default:
		return false
	}
}

// Token exposes the token channel for use in a select: a send takes the
// token and Release gives it back.
func (b *Binding) Token() chan<- struct{} {
	return b.token
}

// Release returns the token taken by Acquire.
func (b *Binding) Release() {
	select {
	case <-b.token:
	default:
		panic("tl: release of a free binding")
	}
}

// Mux resolves traffic classes to their bindings.
type Mux struct {
	layout   Layout
	core     ipcc.Core
	bindings [numClasses]*Binding
}

// NewMux validates l and carves its rings out of region. The CPU2 view swaps
// the roles of every binding.
func NewMux(l Layout, region *shm.Region, core ipcc.Core) (*Mux, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if region.Size() < l.RegionSize {
		return nil, wbhci.Configf("region", "%d bytes, layout needs %d", region.Size(), l.RegionSize)
	}

	m := &Mux{layout: l, core: core}
	log := wbhci.ComponentLogger("tl", map[string]interface{}{"core": core.String()})
	for _, s := range l.Rings {
		r, err := region.Ring(s.Offset, s.Size)
		if err != nil {
			return nil, wbhci.Configf(s.Class.String(), "%v", err)
		}
		m.bindings[s.Class] = &Binding{
			Class:     s.Class,
			Channel:   s.Channel,
			Direction: s.Direction,
			Ring:      r,
			Outbound:  s.Direction == core.Outbound(),
			token:     make(chan struct{}, 1),
		}
		log.Debugf("bound %v to %v %v at 0x%04X (%d bytes)", s.Class, s.Channel, s.Direction, s.Offset, s.Size)
	}
	return m, nil
}

// Bind returns the binding of class c.
func (m *Mux) Bind(c Class) (*Binding, error) {
	if !c.Valid() || m.bindings[c] == nil {
		return nil, wbhci.Configf("bind", "unknown traffic class %v", c)
	}
	return m.bindings[c], nil
}

// Bindings lists every binding in class order.
func (m *Mux) Bindings() []*Binding {
	bb := make([]*Binding, 0, numClasses)
	for _, b := range m.bindings {
		bb = append(bb, b)
	}
	return bb
}

// Layout returns the layout the mux was built from.
func (m *Mux) Layout() Layout {
	return m.layout
}

// Core is the local core.
func (m *Mux) Core() ipcc.Core {
	return m.core
}

// ResetRings empties every ring. It may only run before either core starts
// using the rings.
func (m *Mux) ResetRings() {
	for _, b := range m.bindings {
		b.Ring.Reset()
	}
}
