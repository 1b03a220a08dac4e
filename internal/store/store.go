package store

import (
	"context"

	"github.com/hyperengineering/studiosync/internal/types"
)

// Store is the local cache contract used by the sync engine.
// Absence is reported through the ok result, never as an error.
type Store interface {
	Get(ctx context.Context, c types.Collection, id string) (types.Record, bool, error)
	Put(ctx context.Context, rec types.Record) error
	Delete(ctx context.Context, c types.Collection, id string) error
	List(ctx context.Context, c types.Collection) ([]types.Record, error)
	ListDirty(ctx context.Context, c types.Collection) ([]types.Record, error)
	MarkClean(ctx context.Context, c types.Collection, id string, ackedVersion int64) error

	GetPending(ctx context.Context, c types.Collection, id string) (types.PendingWrite, bool, error)
	ListPending(ctx context.Context, c types.Collection) ([]types.PendingWrite, error)
	PutPending(ctx context.Context, pw types.PendingWrite) error
	DeletePending(ctx context.Context, c types.Collection, id string) error

	StageEdit(ctx context.Context, rec types.Record, pw types.PendingWrite) error
	StageDelete(ctx context.Context, pw types.PendingWrite) error
	ApplyRemote(ctx context.Context, ev types.ChangeEvent) error

	GetTombstone(ctx context.Context, c types.Collection, id string) (int64, bool, error)
	Tombstone(ctx context.Context, c types.Collection, id string, version int64) error
	ClearTombstone(ctx context.Context, c types.Collection, id string) error

	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}
