package engine

import "github.com/cockroachdb/errors"

var (
	// ErrNotStarted is returned by the API before Start.
	ErrNotStarted = errors.New("engine not started")
	// ErrClosed is returned by the API after Close.
	ErrClosed = errors.New("engine closed")
	// ErrEngineFailed marks a local storage fault. The engine instance stops
	// and must be recreated.
	ErrEngineFailed = errors.New("engine failed")
	// ErrUnknownCollection is returned for collections the engine does not sync.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrNotFound is returned when deleting a record the cache does not hold.
	ErrNotFound = errors.New("record not found")
	// ErrRecordRemoved is returned for edits of a removed record.
	ErrRecordRemoved = errors.New("record removed")
	// ErrInvalidPayload is returned synchronously for payloads that fail validation.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrRejected resolves an ack whose write the remote refused.
	ErrRejected = errors.New("write rejected")
	// ErrConflict resolves an ack whose write lost to a newer remote change.
	ErrConflict = errors.New("write conflict")
	// ErrSyncFailed resolves an ack whose write ran out of retries.
	ErrSyncFailed = errors.New("sync failed")
	// ErrSuperseded resolves an ack whose edit was replaced by a newer one.
	ErrSuperseded = errors.New("edit superseded")
)
