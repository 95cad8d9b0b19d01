package transport

import (
	"sync"

	"github.com/rigado/wbhci/hci"
)

// queue parks decoded packets for a class whose receiver does not currently
// own the ring.
type queue struct {
	mu     sync.Mutex
	pkts   []hci.Packet
	depth  int
	notify chan struct{}
}

func newQueue(depth int) *queue {
	return &queue{
		pkts:   make([]hci.Packet, 0, depth),
		depth:  depth,
		notify: make(chan struct{}, 1),
	}
}

// push appends p, evicting the oldest packet when full. It reports whether a
// packet was evicted.
func (q *queue) push(p hci.Packet) bool {
	q.mu.Lock()
	evicted := false
	if len(q.pkts) == q.depth {
		copy(q.pkts, q.pkts[1:])
		q.pkts = q.pkts[:len(q.pkts)-1]
		evicted = true
	}
	q.pkts = append(q.pkts, p)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (q *queue) pop() (hci.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pkts) == 0 {
		return nil, false
	}
	p := q.pkts[0]
	copy(q.pkts, q.pkts[1:])
	q.pkts[len(q.pkts)-1] = nil
	q.pkts = q.pkts[:len(q.pkts)-1]
	return p, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pkts)
}
