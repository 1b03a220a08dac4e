package engine

import (
	"context"
	"sync"

	"github.com/hyperengineering/studiosync/internal/types"
)

// observer buffers notifications for one ObserveCollection range so the
// worker never waits on a slow reader.
type observer struct {
	mu     sync.Mutex
	queue  []types.Notification
	closed bool
	signal chan struct{}
}

func newObserver() *observer {
	return &observer{signal: make(chan struct{}, 1)}
}

func (o *observer) push(n types.Notification) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, n)
	o.mu.Unlock()
	o.wake()
}

func (o *observer) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *observer) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// next returns false when ctx is done or the observer was closed and drained.
func (o *observer) next(ctx context.Context) (types.Notification, bool) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			n := o.queue[0]
			o.queue[0] = types.Notification{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return n, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return types.Notification{}, false
		}

		select {
		case <-ctx.Done():
			return types.Notification{}, false
		case <-o.signal:
		}
	}
}
