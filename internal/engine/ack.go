package engine

import (
	"context"
	"sync"

	"github.com/hyperengineering/studiosync/internal/types"
)

// Ack tracks one submitted edit until the remote store settles it.
type Ack struct {
	Token      string
	Collection types.Collection
	RecordID   string

	once    sync.Once
	done    chan struct{}
	version int64
	err     error
}

func newAck(token string, c types.Collection, id string) *Ack {
	return &Ack{Token: token, Collection: c, RecordID: id, done: make(chan struct{})}
}

func (a *Ack) resolve(version int64, err error) {
	a.once.Do(func() {
		a.version = version
		a.err = err
		close(a.done)
	})
}

// Done is closed once the edit is settled.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the edit is settled or ctx is done. It returns the
// remote version that acknowledged the edit, or ErrSuperseded, ErrRejected,
// ErrConflict or ErrSyncFailed.
func (a *Ack) Wait(ctx context.Context) (int64, error) {
	select {
	case <-a.done:
		return a.version, a.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
