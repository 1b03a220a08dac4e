package remote

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hyperengineering/studiosync/internal/codec"
	"github.com/hyperengineering/studiosync/internal/types"
	"github.com/hyperengineering/studiosync/internal/validation"
)

// Hub is an in-memory authoritative studio store. Every collection carries
// its own version counter; each accepted change takes the next value, so a
// record's version only ever grows. Writes are checked against the base
// version the writer last saw and refused as stale when it moved.
//
// Hub implements Client for in-process use and serves remote clients
// through ServeConn.
type Hub struct {
	mu          sync.Mutex
	collections map[types.Collection]*hubCollection
	logger      *slog.Logger
}

type hubEntry struct {
	payload types.Payload
	version int64
}

type hubCollection struct {
	version  int64
	records  map[string]hubEntry
	removed  map[string]int64
	watchers map[*eventQueue]struct{}
}

var _ Client = (*Hub)(nil)

// NewHub creates an empty hub holding every known collection.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		collections: make(map[types.Collection]*hubCollection),
		logger:      logger.With("component", "hub"),
	}
	for _, c := range types.AllCollections() {
		h.collections[c] = &hubCollection{
			records:  make(map[string]hubEntry),
			removed:  make(map[string]int64),
			watchers: make(map[*eventQueue]struct{}),
		}
	}
	return h
}

func (h *Hub) collection(c types.Collection) (*hubCollection, error) {
	col, ok := h.collections[c]
	if !ok {
		return nil, Rejected("unknown collection " + string(c))
	}
	return col, nil
}

func validationMessage(errs []validation.ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// broadcast must be called with h.mu held.
func (col *hubCollection) broadcast(ev types.ChangeEvent) {
	for q := range col.watchers {
		q.push(ev)
	}
}

// apply must be called with h.mu held.
func (col *hubCollection) apply(c types.Collection, id string, payload types.Payload) int64 {
	kind := types.EventAdded
	if _, exists := col.records[id]; exists {
		kind = types.EventUpdated
	}
	col.version++
	stored := codec.Clone(payload)
	col.records[id] = hubEntry{payload: stored, version: col.version}
	delete(col.removed, id)
	col.broadcast(types.ChangeEvent{
		Collection:    c,
		RecordID:      id,
		Payload:       stored,
		RemoteVersion: col.version,
		Kind:          kind,
	})
	return col.version
}

// remove must be called with h.mu held.
func (col *hubCollection) remove(c types.Collection, id string) int64 {
	col.version++
	delete(col.records, id)
	col.removed[id] = col.version
	col.broadcast(types.ChangeEvent{
		Collection:    c,
		RecordID:      id,
		RemoteVersion: col.version,
		Kind:          types.EventRemoved,
	})
	return col.version
}

// WriteRecord stores payload under id when baseVersion matches the current
// version of the record (0 when it does not exist).
func (h *Hub) WriteRecord(ctx context.Context, c types.Collection, id string, payload types.Payload, baseVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Transient(err)
	}
	if id == "" || strings.Contains(id, "/") {
		return 0, Rejected("invalid record id")
	}
	if errs := validation.ValidatePayload(c, payload); errs != nil {
		return 0, Rejected(validationMessage(errs))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return 0, err
	}
	current := col.records[id].version
	if baseVersion != current {
		return 0, Stale(fmt.Sprintf("%s/%s is at version %d, write based on %d", c, id, current, baseVersion))
	}
	v := col.apply(c, id, payload)
	h.logger.Debug("record written", "collection", c, "record_id", id, "version", v)
	return v, nil
}

// DeleteRecord removes id when baseVersion matches. Deleting a record that
// is already gone succeeds and returns the version of its removal.
func (h *Hub) DeleteRecord(ctx context.Context, c types.Collection, id string, baseVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Transient(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return 0, err
	}
	entry, exists := col.records[id]
	if !exists {
		return col.removed[id], nil
	}
	if baseVersion != entry.version {
		return 0, Stale(fmt.Sprintf("%s/%s is at version %d, delete based on %d", c, id, entry.version, baseVersion))
	}
	v := col.remove(c, id)
	h.logger.Debug("record removed", "collection", c, "record_id", id, "version", v)
	return v, nil
}

// Replace makes records the complete content of a collection: records not
// listed are removed, listed ones are written when new or changed. The batch
// is validated as a whole before anything is applied.
func (h *Hub) Replace(ctx context.Context, c types.Collection, records map[string]types.Payload) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Transient(err)
	}
	ids := make([]string, 0, len(records))
	for id, p := range records {
		if id == "" || strings.Contains(id, "/") {
			return 0, Rejected("invalid record id")
		}
		if errs := validation.ValidatePayload(c, p); errs != nil {
			return 0, Rejected(id + ": " + validationMessage(errs))
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return 0, err
	}

	existing := make([]string, 0, len(col.records))
	for id := range col.records {
		existing = append(existing, id)
	}
	slices.Sort(existing)
	for _, id := range existing {
		if _, keep := records[id]; !keep {
			col.remove(c, id)
		}
	}
	for _, id := range ids {
		if entry, ok := col.records[id]; ok && codec.Equal(entry.payload, records[id]) {
			continue
		}
		col.apply(c, id, records[id])
	}

	h.logger.Info("collection replaced", "collection", c, "records", len(ids), "version", col.version)
	return col.version, nil
}

// Snapshot returns the current records of a collection ordered by id.
func (h *Hub) Snapshot(c types.Collection) ([]types.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(col.records))
	for id, e := range col.records {
		out = append(out, types.Record{Collection: c, ID: id, Version: e.version, Payload: codec.Clone(e.payload)})
	}
	slices.SortFunc(out, func(a, b types.Record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// watch registers a change queue and returns the current state as added
// events, both under one lock so no change falls between them.
func (h *Hub) watch(c types.Collection) ([]types.ChangeEvent, *eventQueue, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return nil, nil, nil, err
	}
	snapshot := make([]types.ChangeEvent, 0, len(col.records))
	for id, e := range col.records {
		snapshot = append(snapshot, types.ChangeEvent{
			Collection:    c,
			RecordID:      id,
			Payload:       e.payload,
			RemoteVersion: e.version,
			Kind:          types.EventAdded,
		})
	}
	slices.SortFunc(snapshot, func(a, b types.ChangeEvent) int { return strings.Compare(a.RecordID, b.RecordID) })

	q := newEventQueue()
	col.watchers[q] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		delete(col.watchers, q)
		h.mu.Unlock()
		q.fail(nil)
	}
	return snapshot, q, cancel, nil
}

func syncedEvent(c types.Collection) types.ChangeEvent {
	return types.ChangeEvent{Collection: c, Kind: types.EventSynced}
}

// Subscribe streams a collection in process.
func (h *Hub) Subscribe(ctx context.Context, c types.Collection) iter.Seq2[types.ChangeEvent, error] {
	return func(yield func(types.ChangeEvent, error) bool) {
		snapshot, q, cancel, err := h.watch(c)
		if err != nil {
			yield(types.ChangeEvent{}, err)
			return
		}
		defer cancel()

		for _, ev := range snapshot {
			if ctx.Err() != nil || !yield(ev, nil) {
				return
			}
		}
		if ctx.Err() != nil || !yield(syncedEvent(c), nil) {
			return
		}
		q.stream(ctx, yield)
	}
}

// Watchers returns the number of open subscriptions on a collection.
func (h *Hub) Watchers(c types.Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if col, ok := h.collections[c]; ok {
		return len(col.watchers)
	}
	return 0
}

// Version returns the latest version assigned in a collection.
func (h *Hub) Version(c types.Collection) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	col, err := h.collection(c)
	if err != nil {
		return 0, err
	}
	return col.version, nil
}
