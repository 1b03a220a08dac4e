package types

import (
	"fmt"
	"time"
)

// Collection is one of the fixed partitions of the studio tree.
type Collection string

const (
	CollectionClasses     Collection = "classes"
	CollectionInstructors Collection = "instructors"
	CollectionBookings    Collection = "bookings"
)

// AllCollections returns every collection in a stable order.
func AllCollections() []Collection {
	return []Collection{CollectionClasses, CollectionInstructors, CollectionBookings}
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionClasses, CollectionInstructors, CollectionBookings:
		return true
	}
	return false
}

// ParseCollection converts a string into a known Collection.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}

// Payload is a JSON-compatible tree: nested maps, slices, strings,
// float64 numbers, booleans and nil.
type Payload map[string]any

// Key identifies a record across collections.
type Key struct {
	Collection Collection
	ID         string
}

func (k Key) String() string {
	return string(k.Collection) + "/" + k.ID
}

// Record is the cached state of one key. Version is the remote version the
// cached value derives from; Dirty marks a value with an unacknowledged edit.
type Record struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	Version    int64      `json:"version"`
	Payload    Payload    `json:"payload"`
	Dirty      bool       `json:"dirty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key returns the record's key.
func (r Record) Key() Key {
	return Key{Collection: r.Collection, ID: r.ID}
}

// PendingWrite is a queued local mutation waiting for acknowledgement.
// There is at most one per key; a newer edit replaces it.
type PendingWrite struct {
	Collection    Collection
	RecordID      string
	Payload       Payload
	Delete        bool
	BaseVersion   int64
	BasePayload   Payload
	LocalVersion  int64
	AttemptCount  int
	LastAttemptAt time.Time
	Token         string
	Sent          bool
	Failed        bool
}

// Key returns the pending write's key.
func (p PendingWrite) Key() Key {
	return Key{Collection: p.Collection, ID: p.RecordID}
}

// EventKind describes what happened to a record on the remote.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"

	// EventSynced marks the end of a subscription's initial replay. It
	// carries no record; every record the remote holds has been sent.
	EventSynced EventKind = "synced"
)

// ChangeEvent is one entry of a remote change stream.
type ChangeEvent struct {
	Collection    Collection `json:"collection"`
	RecordID      string     `json:"record_id"`
	Payload       Payload    `json:"payload,omitempty"`
	RemoteVersion int64      `json:"version"`
	Kind          EventKind  `json:"kind"`
}

// Key returns the event's key.
func (e ChangeEvent) Key() Key {
	return Key{Collection: e.Collection, ID: e.RecordID}
}

// SyncState is the per-key position in the sync state machine.
type SyncState string

const (
	StateClean    SyncState = "clean"
	StateDirty    SyncState = "dirty"
	StateInFlight SyncState = "in_flight"
	StateConflict SyncState = "conflict"
)

// Notification is emitted to read-side observers on every state transition.
// Err is set for Rejected, Conflict and SyncFailed outcomes.
type Notification struct {
	Record  Record
	State   SyncState
	Removed bool
	Err     error
}
