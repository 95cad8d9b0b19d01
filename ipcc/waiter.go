package ipcc

import (
	"context"
	"sync"

	"github.com/rigado/wbhci"
)

// Waiters maps each (channel, direction) to at most one waiting task and a
// one-deep ready token.
//
// Signal only performs a non-blocking send, so it is safe from interrupt
// context. A token left behind with nobody registered is picked up by the
// next waiter, which then re-checks its ring.
type Waiters struct {
	mu    sync.Mutex
	slots [NumChannels][2]waitSlot
}

type waitSlot struct {
	ready chan struct{}
	owned bool
}

func newWaiters() *Waiters {
	w := &Waiters{}
	for i := range w.slots {
		for j := range w.slots[i] {
			w.slots[i][j].ready = make(chan struct{}, 1)
		}
	}
	return w
}

func (w *Waiters) slot(ch Channel, d Direction) *waitSlot {
	return &w.slots[ch-1][d]
}

// Register claims the slot for (ch, d).
func (w *Waiters) Register(ch Channel, d Direction) (*Waiter, error) {
	if !ch.Valid() || !d.Valid() {
		return nil, wbhci.Configf("waiter", "invalid slot %v/%v", ch, d)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.slot(ch, d)
	if s.owned {
		return nil, wbhci.Configf("waiter", "%v/%v already has a waiter", ch, d)
	}
	s.owned = true
	return &Waiter{w: w, ch: ch, dir: d, ready: s.ready}, nil
}

// Signal marks (ch, d) ready. It returns false when a token was already
// pending and the notification coalesced with it.
func (w *Waiters) Signal(ch Channel, d Direction) bool {
	if !ch.Valid() || !d.Valid() {
		return false
	}
	select {
	case w.slot(ch, d).ready <- struct{}{}:
		return true
	default:
		return false
	}
}

// Waiting reports whether a task currently owns the slot.
func (w *Waiters) Waiting(ch Channel, d Direction) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slot(ch, d).owned
}

// Waiter is a registered interest in one (channel, direction).
type Waiter struct {
	w     *Waiters
	ch    Channel
	dir   Direction
	ready chan struct{}
	once  sync.Once
}

// C is readable once the slot has been signalled.
func (wt *Waiter) C() <-chan struct{} {
	return wt.ready
}

// Wait blocks until the slot is signalled or ctx ends.
func (wt *Waiter) Wait(ctx context.Context) error {
	select {
	case <-wt.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deregister releases the slot. It is safe to call more than once.
func (wt *Waiter) Deregister() {
	wt.once.Do(func() {
		wt.w.mu.Lock()
		wt.w.slot(wt.ch, wt.dir).owned = false
		wt.w.mu.Unlock()
	})
}
