package engine

import (
	"sync"

	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/queue"
)

// outgoing is an event waiting for delivery, tagged with its connection.
type outgoing struct {
	connID string
	event  device.Event
}

// outbox hands events from the connection loop to the dispatcher in
// transition order. push never blocks.
type outbox struct {
	mu     sync.Mutex
	q      queue.Queue[outgoing]
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		q:      queue.NewSliceQueue[outgoing](16),
		signal: make(chan struct{}, 1),
	}
}

func (o *outbox) push(connID string, events ...device.Event) {
	if len(events) == 0 {
		return
	}

	o.mu.Lock()
	for _, ev := range events {
		o.q.Enqueue(outgoing{connID: connID, event: ev})
	}
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// drain removes every queued event.
func (o *outbox) drain() []outgoing {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.q.Drain()
}

// Ready is signaled after a push.
func (o *outbox) Ready() <-chan struct{} { return o.signal }
