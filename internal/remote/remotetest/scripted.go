// Package remotetest provides a scriptable remote.Client for tests.
package remotetest

import (
	"context"
	"iter"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/types"
)

// ErrOffline is the cause of every transient failure while offline.
var ErrOffline = errors.New("scripted remote offline")

// Call records one write or delete attempt.
type Call struct {
	Op          string // "write" or "delete"
	Collection  types.Collection
	RecordID    string
	Payload     types.Payload
	BaseVersion int64
}

// Scripted is a remote.Client backed by a real Hub with injectable faults:
// connectivity can be cut, write results scripted, writes held on a gate and
// arbitrary events pushed into open subscriptions.
type Scripted struct {
	Hub *remote.Hub

	mu         sync.Mutex
	offline    bool
	failures   []error
	gate       chan struct{}
	calls      []Call
	feeds      map[*feed]types.Collection
	subscribes int
}

var _ remote.Client = (*Scripted)(nil)

// New returns a connected scripted client over an empty hub.
func New() *Scripted {
	return &Scripted{
		Hub:   remote.NewHub(nil),
		feeds: make(map[*feed]types.Collection),
	}
}

// SetOffline cuts or restores connectivity. Going offline ends every open
// subscription with a transient error.
func (s *Scripted) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	var ended []*feed
	if offline {
		for f := range s.feeds {
			ended = append(ended, f)
		}
	}
	s.mu.Unlock()

	for _, f := range ended {
		f.put(item{err: remote.Transient(ErrOffline)})
	}
}

// FailNext makes the next len(errs) writes or deletes return errs in order.
func (s *Scripted) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Hold blocks writes and deletes until Release.
func (s *Scripted) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release lets held writes proceed.
func (s *Scripted) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Inject delivers ev to every open subscription of its collection without
// touching the hub.
func (s *Scripted) Inject(ev types.ChangeEvent) {
	s.mu.Lock()
	var targets []*feed
	for f, c := range s.feeds {
		if c == ev.Collection {
			targets = append(targets, f)
		}
	}
	s.mu.Unlock()

	for _, f := range targets {
		f.put(item{ev: ev})
	}
}

// Calls returns every write and delete attempt so far.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor returns the attempts for one key.
func (s *Scripted) CallsFor(c types.Collection, id string) []Call {
	var out []Call
	for _, call := range s.Calls() {
		if call.Collection == c && call.RecordID == id {
			out = append(out, call)
		}
	}
	return out
}

// Subscriptions returns how many times Subscribe has been ranged.
func (s *Scripted) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// OpenSubscriptions returns the number of subscriptions currently open.
func (s *Scripted) OpenSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

func (s *Scripted) begin(ctx context.Context, call Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	gate := s.gate
	var injected error
	if len(s.failures) > 0 {
		injected = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.Transient(ctx.Err())
		}
	}

	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		return remote.Transient(ErrOffline)
	}
	return injected
}

// WriteRecord implements remote.Client.
func (s *Scripted) WriteRecord(ctx context.Context, c types.Collection, id string, payload types.Payload, baseVersion int64) (int64, error) {
	if err := s.begin(ctx, Call{Op: "write", Collection: c, RecordID: id, Payload: payload, BaseVersion: baseVersion}); err != nil {
		return 0, err
	}
	return s.Hub.WriteRecord(ctx, c, id, payload, baseVersion)
}

// DeleteRecord implements remote.Client.
func (s *Scripted) DeleteRecord(ctx context.Context, c types.Collection, id string, baseVersion int64) (int64, error) {
	if err := s.begin(ctx, Call{Op: "delete", Collection: c, RecordID: id, BaseVersion: baseVersion}); err != nil {
		return 0, err
	}
	return s.Hub.DeleteRecord(ctx, c, id, baseVersion)
}

// Subscribe implements remote.Client.
func (s *Scripted) Subscribe(ctx context.Context, c types.Collection) iter.Seq2[types.ChangeEvent, error] {
	return func(yield func(types.ChangeEvent, error) bool) {
		s.mu.Lock()
		s.subscribes++
		if s.offline {
			s.mu.Unlock()
			yield(types.ChangeEvent{}, remote.Transient(ErrOffline))
			return
		}
		f := newFeed()
		s.feeds[f] = c
		s.mu.Unlock()

		subCtx, cancel := context.WithCancel(ctx)
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.feeds, f)
			s.mu.Unlock()
		}()

		go func() {
			for ev, err := range s.Hub.Subscribe(subCtx, c) {
				if err != nil {
					f.put(item{err: err})
					return
				}
				f.put(item{ev: ev})
			}
		}()

		for {
			it, ok := f.next(ctx)
			if !ok {
				return
			}
			if it.err != nil {
				yield(types.ChangeEvent{}, it.err)
				return
			}
			if !yield(it.ev, nil) {
				return
			}
		}
	}
}

type item struct {
	ev  types.ChangeEvent
	err error
}

// feed is an unbounded queue feeding one subscription.
type feed struct {
	mu     sync.Mutex
	items  []item
	signal chan struct{}
}

func newFeed() *feed {
	return &feed{signal: make(chan struct{}, 1)}
}

func (f *feed) put(it item) {
	f.mu.Lock()
	f.items = append(f.items, it)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) next(ctx context.Context) (item, bool) {
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			it := f.items[0]
			f.items = f.items[1:]
			f.mu.Unlock()
			return it, true
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return item{}, false
		case <-f.signal:
		}
	}
}
