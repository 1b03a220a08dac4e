package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperengineering/studiosync/internal/types"
)

// eventQueue is an unbounded FIFO between a producer that must never block
// and a single consumer. A terminal error is delivered after queued events.
type eventQueue struct {
	mu     sync.Mutex
	events []types.ChangeEvent
	err    error
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev types.ChangeEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.notify()
}

// fail ends the queue. Later pushes are ignored.
func (q *eventQueue) fail(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// errQueueDone ends a stream without reporting a failure.
var errQueueDone = errors.New("queue done")

// next blocks until an event or the terminal error is available. It returns
// errQueueDone when ctx is done or the queue ended without an error.
func (q *eventQueue) next(ctx context.Context) (types.ChangeEvent, error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events[0] = types.ChangeEvent{}
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err == nil {
				err = errQueueDone
			}
			return types.ChangeEvent{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.ChangeEvent{}, errQueueDone
		case <-q.signal:
		}
	}
}

// stream turns the queue into the Subscribe sequence shape.
func (q *eventQueue) stream(ctx context.Context, yield func(types.ChangeEvent, error) bool) {
	for {
		ev, err := q.next(ctx)
		if errors.Is(err, errQueueDone) {
			return
		}
		if err != nil {
			yield(types.ChangeEvent{}, err)
			return
		}
		if !yield(ev, nil) {
			return
		}
	}
}
