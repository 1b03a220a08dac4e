// Package remote talks to the authoritative studio store: a WebSocket client
// for the studio engine, and the Hub that serves the same protocol.
package remote

import (
	"context"
	"iter"

	"github.com/hyperengineering/studiosync/internal/types"
)

// Client is the engine's view of the remote store.
type Client interface {
	// WriteRecord replaces a record if the remote still holds baseVersion
	// (0 for a record that does not exist yet) and returns the new version.
	WriteRecord(ctx context.Context, c types.Collection, id string, payload types.Payload, baseVersion int64) (int64, error)

	// DeleteRecord removes a record if the remote still holds baseVersion.
	DeleteRecord(ctx context.Context, c types.Collection, id string, baseVersion int64) (int64, error)

	// Subscribe streams a collection. Each range opens a new subscription
	// that first replays current state as added events, then yields one
	// EventSynced marker, then follows live changes. A failure is yielded
	// once as a terminal error. Canceling ctx ends the sequence without an
	// error.
	Subscribe(ctx context.Context, c types.Collection) iter.Seq2[types.ChangeEvent, error]
}
