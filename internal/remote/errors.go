package remote

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies a failed remote write.
type ErrorKind string

const (
	// KindTransient failures may succeed when retried.
	KindTransient ErrorKind = "transient"
	// KindRejected writes were refused and must not be retried.
	KindRejected ErrorKind = "rejected"
	// KindStale writes were based on a version the remote no longer holds.
	KindStale ErrorKind = "stale"
)

var (
	ErrTransient = errors.New("remote unavailable")
	ErrRejected  = errors.New("remote rejected write")
	ErrStale     = errors.New("stale base version")
)

// WriteError is returned by Client writes.
type WriteError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *WriteError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrStale:
		return e.Kind == KindStale
	}
	return false
}

// Transient wraps a network or availability failure.
func Transient(err error) error {
	return &WriteError{Kind: KindTransient, Err: err}
}

// Rejected builds a non-retryable refusal.
func Rejected(msg string) error {
	return &WriteError{Kind: KindRejected, Message: msg}
}

// Stale builds a base version mismatch.
func Stale(msg string) error {
	return &WriteError{Kind: KindStale, Message: msg}
}

// KindOf classifies err. Anything that is not a WriteError is treated as
// transient, except cancellation of the caller's own context.
func KindOf(err error) ErrorKind {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindTransient
}

// IsCanceled reports whether err is the caller giving up.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
