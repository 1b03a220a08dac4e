package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/studiosync/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache", "studiosync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_NewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(context.Background(), types.CollectionClasses, "1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	rec, ok, err := s.Get(context.Background(), types.CollectionClasses, "nope")

	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rec.ID)
}

func TestStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := types.Record{
		Collection: types.CollectionClasses,
		ID:         "101",
		Version:    3,
		Payload:    types.Payload{"name": "Vinyasa", "capacity": 20.0},
	}

	// When the same record is written twice
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Put(ctx, rec))

	// Then exactly one row holds it
	all, err := s.List(ctx, types.CollectionClasses)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(3), all[0].Version)
	require.Equal(t, rec.Payload, all[0].Payload)
	require.False(t, all[0].UpdatedAt.IsZero())
}

func TestStore_StageEdit_ListDirty_MarkClean(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := types.Record{Collection: types.CollectionClasses, ID: "101", Version: 2,
		Payload: types.Payload{"name": "Vinyasa"}, Dirty: true}
	pw := types.PendingWrite{Collection: types.CollectionClasses, RecordID: "101",
		Payload: rec.Payload, BaseVersion: 2, BasePayload: types.Payload{"name": "Hatha"},
		LocalVersion: 1, Token: "tok"}

	require.NoError(t, s.StageEdit(ctx, rec, pw))

	dirty, err := s.ListDirty(ctx, types.CollectionClasses)
	require.NoError(t, err)
	require.Len(t, dirty, 1)

	// ListDirty is restartable: a second call returns the same set
	again, err := s.ListDirty(ctx, types.CollectionClasses)
	require.NoError(t, err)
	require.Equal(t, dirty, again)

	got, ok, err := s.GetPending(ctx, types.CollectionClasses, "101")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pw, got)

	require.NoError(t, s.MarkClean(ctx, types.CollectionClasses, "101", 5))

	cleaned, ok, err := s.Get(ctx, types.CollectionClasses, "101")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, cleaned.Dirty)
	require.Equal(t, int64(5), cleaned.Version)

	_, ok, err = s.GetPending(ctx, types.CollectionClasses, "101")
	require.NoError(t, err)
	require.False(t, ok)

	dirty, err = s.ListDirty(ctx, types.CollectionClasses)
	require.NoError(t, err)
	require.Empty(t, dirty)
}

func TestStore_PendingCoalesces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := types.PendingWrite{Collection: types.CollectionBookings, RecordID: "55",
		Payload: types.Payload{"date": "2024-06-01"}, LocalVersion: 1, Token: "a"}
	second := first
	second.Payload = types.Payload{"date": "2024-06-02"}
	second.LocalVersion = 2
	second.Token = "b"

	require.NoError(t, s.PutPending(ctx, first))
	require.NoError(t, s.PutPending(ctx, second))

	all, err := s.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "b", all[0].Token)
	require.Equal(t, "2024-06-02", all[0].Payload["date"])

	require.NoError(t, s.DeletePending(ctx, types.CollectionBookings, "55"))
	all, err = s.ListPending(ctx, types.CollectionBookings)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStore_Delete_RemovesPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.StageEdit(ctx,
		types.Record{Collection: types.CollectionInstructors, ID: "7", Dirty: true, Payload: types.Payload{"name": "Kai"}},
		types.PendingWrite{Collection: types.CollectionInstructors, RecordID: "7", Token: "t"}))

	require.NoError(t, s.Delete(ctx, types.CollectionInstructors, "7"))

	_, ok, err := s.Get(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.GetPending(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_StageDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, types.Record{Collection: types.CollectionInstructors, ID: "7", Version: 4,
		Payload: types.Payload{"name": "Kai"}}))

	pw := types.PendingWrite{Collection: types.CollectionInstructors, RecordID: "7", Delete: true,
		BaseVersion: 4, Token: "del"}
	require.NoError(t, s.StageDelete(ctx, pw))

	_, ok, err := s.Get(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := s.GetPending(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Delete)

	v, ok, err := s.GetTombstone(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), v)
}

func TestStore_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Given a dirty local edit
	require.NoError(t, s.StageEdit(ctx,
		types.Record{Collection: types.CollectionBookings, ID: "55", Version: 1, Dirty: true, Payload: types.Payload{"n": 1.0}},
		types.PendingWrite{Collection: types.CollectionBookings, RecordID: "55", BaseVersion: 1, Token: "t"}))

	// When an authoritative update arrives
	ev := types.ChangeEvent{Collection: types.CollectionBookings, RecordID: "55",
		Payload: types.Payload{"n": 3.0}, RemoteVersion: 3, Kind: types.EventUpdated}
	require.NoError(t, s.ApplyRemote(ctx, ev))
	require.NoError(t, s.ApplyRemote(ctx, ev))

	// Then the record is clean at the remote value and the pending write is gone
	rec, ok, err := s.Get(ctx, types.CollectionBookings, "55")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, rec.Dirty)
	require.Equal(t, int64(3), rec.Version)
	require.Equal(t, types.Payload{"n": 3.0}, rec.Payload)
	_, ok, err = s.GetPending(ctx, types.CollectionBookings, "55")
	require.NoError(t, err)
	require.False(t, ok)

	// When it is removed remotely
	require.NoError(t, s.ApplyRemote(ctx, types.ChangeEvent{Collection: types.CollectionBookings, RecordID: "55",
		RemoteVersion: 4, Kind: types.EventRemoved}))

	_, ok, err = s.Get(ctx, types.CollectionBookings, "55")
	require.NoError(t, err)
	require.False(t, ok)
	v, ok, err := s.GetTombstone(ctx, types.CollectionBookings, "55")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), v)

	// And a later re-creation clears the tombstone
	require.NoError(t, s.ApplyRemote(ctx, types.ChangeEvent{Collection: types.CollectionBookings, RecordID: "55",
		Payload: types.Payload{"n": 5.0}, RemoteVersion: 5, Kind: types.EventAdded}))
	_, ok, err = s.GetTombstone(ctx, types.CollectionBookings, "55")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_TombstoneNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Tombstone(ctx, types.CollectionClasses, "9", 6))
	require.NoError(t, s.Tombstone(ctx, types.CollectionClasses, "9", 2))

	v, ok, err := s.GetTombstone(ctx, types.CollectionClasses, "9")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(6), v)

	require.NoError(t, s.ClearTombstone(ctx, types.CollectionClasses, "9"))
	_, ok, err = s.GetTombstone(ctx, types.CollectionClasses, "9")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Meta(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetMeta(ctx, "session_id")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetMeta(ctx, "session_id", "a"))
	require.NoError(t, s.SetMeta(ctx, "session_id", "b"))

	v, ok, err := s.GetMeta(ctx, "session_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, types.Record{Collection: types.CollectionClasses, ID: "101", Version: 2,
		Payload: types.Payload{"name": "Hatha"}}))
	require.NoError(t, s.StageDelete(ctx, types.PendingWrite{Collection: types.CollectionClasses, RecordID: "101",
		Delete: true, BaseVersion: 2, Token: "del"}))
	require.NoError(t, s.StageEdit(ctx,
		types.Record{Collection: types.CollectionInstructors, ID: "7", Dirty: true, Payload: types.Payload{"name": "Kai"}},
		types.PendingWrite{Collection: types.CollectionInstructors, RecordID: "7", Token: "t"}))
	require.NoError(t, s.SetMeta(ctx, "session_id", "a"))

	require.NoError(t, s.Reset(ctx))

	for _, c := range types.AllCollections() {
		records, err := s.List(ctx, c)
		require.NoError(t, err)
		require.Empty(t, records)
		pending, err := s.ListPending(ctx, c)
		require.NoError(t, err)
		require.Empty(t, pending)
	}
	_, ok, err := s.GetTombstone(ctx, types.CollectionClasses, "101")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.GetMeta(ctx, "session_id")
	require.NoError(t, err)
	require.False(t, ok)

	// The emptied cache accepts writes again.
	require.NoError(t, s.Put(ctx, types.Record{Collection: types.CollectionClasses, ID: "101", Version: 5}))
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "studiosync.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.StageEdit(ctx,
		types.Record{Collection: types.CollectionClasses, ID: "101", Dirty: true, Payload: types.Payload{"name": "Vinyasa"}},
		types.PendingWrite{Collection: types.CollectionClasses, RecordID: "101", Payload: types.Payload{"name": "Vinyasa"}, Token: "t"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.ListPending(ctx, types.CollectionClasses)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "Vinyasa", pending[0].Payload["name"])
}

func TestStore_Backup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, types.Record{
		Collection: types.CollectionInstructors,
		ID:         "7",
		Version:    3,
		Payload:    types.Payload{"name": "Ana"},
	}))

	path := filepath.Join(t.TempDir(), "backups", "cache.db")
	require.NoError(t, s.Backup(ctx, path))
	// A second backup replaces the first
	require.NoError(t, s.Backup(ctx, path))

	copy, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer copy.Close()

	rec, ok, err := copy.Get(ctx, types.CollectionInstructors, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), rec.Version)
	require.Equal(t, "Ana", rec.Payload["name"])
}
