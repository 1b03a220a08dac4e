// Package conflict decides how a remote change combines with a pending local
// write for the same key. The remote store is authoritative: a pending edit
// survives only a change that is older than the value it was based on.
package conflict

import (
	"github.com/hyperengineering/studiosync/internal/codec"
	"github.com/hyperengineering/studiosync/internal/types"
)

// Decision names the side whose value the cache keeps.
type Decision string

const (
	KeepRemote Decision = "keep_remote"
	KeepLocal  Decision = "keep_local"
)

// Resolution is the outcome of merging one remote change.
type Resolution struct {
	Decision Decision
	// Record is the value the cache should hold afterwards. When Removed is
	// set the key is gone and Record only carries its identity and version.
	Record  types.Record
	Removed bool
	// Pending is the local write that survives, nil when it was discarded.
	Pending *types.PendingWrite
	// Reapply asks the caller to send Pending again as a new write.
	Reapply bool
	// Conflict reports that a local change was lost or overruled.
	Conflict bool
	Reason   string
}

// Merge resolves remote against the pending local write for its key.
// local may be nil when the key has no pending write.
func Merge(local *types.PendingWrite, remote types.ChangeEvent) Resolution {
	if local == nil {
		return remoteWins(remote, false, "no local write")
	}

	switch {
	case remote.RemoteVersion > local.BaseVersion:
		return remoteWins(remote, true, "remote newer than local base")
	case remote.RemoteVersion == local.BaseVersion:
		return remoteWins(remote, differs(local, remote), "equal versions, prefer remote")
	default:
		kept := *local
		return Resolution{
			Decision: KeepLocal,
			Record: types.Record{
				Collection: local.Collection,
				ID:         local.RecordID,
				Version:    local.BaseVersion,
				Payload:    codec.Clone(local.Payload),
				Dirty:      true,
			},
			Removed: local.Delete,
			Pending: &kept,
			Reapply: !local.Sent,
			Reason:  "remote older than local base",
		}
	}
}

func remoteWins(remote types.ChangeEvent, conflicted bool, reason string) Resolution {
	return Resolution{
		Decision: KeepRemote,
		Record: types.Record{
			Collection: remote.Collection,
			ID:         remote.RecordID,
			Version:    remote.RemoteVersion,
			Payload:    codec.Clone(remote.Payload),
		},
		Removed:  remote.Kind == types.EventRemoved,
		Conflict: conflicted,
		Reason:   reason,
	}
}

// differs reports whether the local write would change what the remote holds.
func differs(local *types.PendingWrite, remote types.ChangeEvent) bool {
	if local.Delete || remote.Kind == types.EventRemoved {
		return local.Delete != (remote.Kind == types.EventRemoved)
	}
	return !codec.Equal(local.Payload, remote.Payload)
}
