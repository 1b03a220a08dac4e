package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/hyperengineering/studiosync/internal/codec"
	"github.com/hyperengineering/studiosync/internal/conflict"
	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/types"
)

// collectionWorker owns one collection: its subscription, its pending
// writes and the per-key states. All cache mutations for the collection
// happen with mu held, so per-key order equals stream order.
type collectionWorker struct {
	e      *Engine
	col    types.Collection
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu        sync.Mutex
	closing   bool
	states    map[string]types.SyncState
	inFlight  map[string]*flight
	stash     map[string][]types.ChangeEvent
	retries   map[string]*retryState
	acks      map[string]*Ack
	observers map[*observer]struct{}
}

// flight reserves a key between dispatch and completion. sent is false while
// the write waits for an in-flight slot.
type flight struct {
	sent    bool
	base    int64
	payload types.Payload
	delete  bool
}

type retryState struct {
	backoff retry.Backoff
	timer   *time.Timer
	gen     int
}

func newCollectionWorker(e *Engine, c types.Collection) *collectionWorker {
	return &collectionWorker{
		e:         e,
		col:       c,
		sem:       semaphore.NewWeighted(int64(e.opts.MaxInFlight)),
		logger:    e.logger.With("collection", string(c)),
		states:    make(map[string]types.SyncState),
		inFlight:  make(map[string]*flight),
		stash:     make(map[string][]types.ChangeEvent),
		retries:   make(map[string]*retryState),
		acks:      make(map[string]*Ack),
		observers: make(map[*observer]struct{}),
	}
}

// load resets writes a crashed process left marked as sent.
func (w *collectionWorker) load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := w.e.store.ListPending(ctx, w.col)
	if err != nil {
		return err
	}
	for _, pw := range pending {
		if pw.Sent {
			pw.Sent = false
			if err := w.e.store.PutPending(ctx, pw); err != nil {
				return err
			}
		}
		w.setState(pw.RecordID, types.StateDirty)
	}
	if len(pending) > 0 {
		w.logger.Info("pending writes loaded", "count", len(pending))
	}
	return nil
}

// run follows the collection's change stream, reopening it with backoff
// after every failure. It returns only on cancellation or a storage fault.
func (w *collectionWorker) run(ctx context.Context) error {
	backoff := w.resubscribeBackoff()
	for {
		before, err := w.knownVersions(ctx)
		if err != nil {
			return w.e.fail(err)
		}
		replayed := make(map[string]struct{})
		synced := false
		var streamErr error
		for ev, err := range w.e.client.Subscribe(ctx, w.col) {
			if err != nil {
				streamErr = err
				break
			}
			if ev.Kind == types.EventSynced {
				if synced {
					continue
				}
				synced = true
				backoff = w.resubscribeBackoff()
				if err := w.reconcile(before, replayed); err != nil {
					return w.e.fail(err)
				}
				if _, _, err := w.flush(false); err != nil {
					return w.e.fail(err)
				}
				continue
			}
			if !synced {
				replayed[ev.RecordID] = struct{}{}
			}
			if err := w.handleEvent(ev); err != nil {
				return w.e.fail(err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if streamErr == nil {
			streamErr = errors.New("subscription ended")
		}

		wait, _ := backoff.Next()
		w.e.metrics.resubscribes.WithLabelValues(string(w.col)).Inc()
		w.logger.Warn("subscription lost", "error", streamErr, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *collectionWorker) resubscribeBackoff() retry.Backoff {
	return retry.WithCappedDuration(w.e.opts.MaxBackoff, retry.NewExponential(w.e.opts.ResubscribeBackoff))
}

// knownVersions maps every cached key the remote has acknowledged to the
// newest remote version the cache holds for it. Keys with a pending delete
// are left out.
func (w *collectionWorker) knownVersions(ctx context.Context) (map[string]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.knownVersionsLocked(ctx)
}

func (w *collectionWorker) knownVersionsLocked(ctx context.Context) (map[string]int64, error) {
	known := make(map[string]int64)
	records, err := w.e.store.List(ctx, w.col)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Version > 0 {
			known[rec.ID] = rec.Version
		}
	}
	pending, err := w.e.store.ListPending(ctx, w.col)
	if err != nil {
		return nil, err
	}
	for _, pw := range pending {
		if pw.Delete {
			// Sent on reconnect; the remote reports the removal's version.
			delete(known, pw.RecordID)
			continue
		}
		if pw.BaseVersion > known[pw.RecordID] {
			known[pw.RecordID] = pw.BaseVersion
		}
	}
	return known, nil
}

// reconcile removes keys the remote dropped while the stream was down. A key
// known before subscribing that the replay skipped no longer exists remotely.
// Keys whose version moved during the replay are left to the live stream.
func (w *collectionWorker) reconcile(before map[string]int64, replayed map[string]struct{}) error {
	ctx := context.Background()
	w.mu.Lock()
	defer w.mu.Unlock()

	now, err := w.knownVersionsLocked(ctx)
	if err != nil {
		return err
	}
	removed := 0
	for _, id := range slices.Sorted(maps.Keys(before)) {
		if _, ok := replayed[id]; ok {
			continue
		}
		version := before[id]
		if now[id] != version {
			continue
		}
		// The real removal carries a version above any the cache has seen.
		if err := w.receive(ctx, types.ChangeEvent{
			Collection:    w.col,
			RecordID:      id,
			RemoteVersion: version + 1,
			Kind:          types.EventRemoved,
		}); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("records removed while disconnected", "count", removed)
	}
	return nil
}

// submit stages a local edit or delete and dispatches it.
func (w *collectionWorker) submit(ctx context.Context, id string, payload types.Payload, del bool) (*Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	path := codec.Path(w.col, id)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return nil, ErrClosed
	}

	st := w.e.store
	if _, removed, err := st.GetTombstone(ctx, w.col, id); err != nil {
		return nil, w.e.fail(err)
	} else if removed {
		return nil, errors.WithHint(
			errors.Wrapf(ErrRecordRemoved, "%s", path),
			"the record was deleted; recreate it under a new id",
		)
	}
	cur, exists, err := st.Get(ctx, w.col, id)
	if err != nil {
		return nil, w.e.fail(err)
	}
	prev, hasPrev, err := st.GetPending(ctx, w.col, id)
	if err != nil {
		return nil, w.e.fail(err)
	}
	if del && !exists && !hasPrev {
		return nil, errors.Wrapf(ErrNotFound, "%s", path)
	}

	pw := types.PendingWrite{
		Collection:   w.col,
		RecordID:     id,
		Delete:       del,
		BaseVersion:  cur.Version,
		BasePayload:  cur.Payload,
		LocalVersion: 1,
		Token:        ulid.Make().String(),
	}
	if !del {
		pw.Payload = codec.Clone(payload)
	}
	if hasPrev {
		pw.BaseVersion = prev.BaseVersion
		pw.BasePayload = prev.BasePayload
		pw.LocalVersion = prev.LocalVersion + 1
		w.resolve(prev.Token, 0, errors.Wrapf(ErrSuperseded, "%s", path))
		w.e.metrics.writes.WithLabelValues(string(w.col), outcomeSuperseded).Inc()
	}
	w.clearRetry(id)

	ack := newAck(pw.Token, w.col, id)
	f := w.inFlight[id]
	inFlight := f != nil && f.sent

	// A delete of a record the remote has never seen stays local.
	if del && pw.BaseVersion == 0 && !inFlight && (!hasPrev || prev.AttemptCount == 0) {
		if err := st.Delete(ctx, w.col, id); err != nil {
			return nil, w.e.fail(err)
		}
		if err := st.Tombstone(ctx, w.col, id, 0); err != nil {
			return nil, w.e.fail(err)
		}
		if err := w.transition(ctx, id, types.StateClean, nil); err != nil {
			return nil, w.e.fail(err)
		}
		ack.resolve(0, nil)
		return ack, nil
	}

	if del {
		err = st.StageDelete(ctx, pw)
	} else {
		err = st.StageEdit(ctx, types.Record{
			Collection: w.col,
			ID:         id,
			Version:    pw.BaseVersion,
			Payload:    pw.Payload,
			Dirty:      true,
			UpdatedAt:  time.Now().UTC(),
		}, pw)
	}
	if err != nil {
		return nil, w.e.fail(err)
	}
	w.acks[pw.Token] = ack

	state := types.StateDirty
	if inFlight {
		state = types.StateInFlight
	}
	if err := w.transition(ctx, id, state, nil); err != nil {
		return nil, w.e.fail(err)
	}
	if err := w.dispatch(id); err != nil {
		return nil, w.e.fail(err)
	}

	w.logger.Debug("edit staged", "record_id", id, "delete", del, "base_version", pw.BaseVersion, "local_version", pw.LocalVersion)
	return ack, nil
}

// dispatch starts a write for id unless one is already running, waiting on
// backoff, or the pending write is marked failed. Must be called with mu held.
func (w *collectionWorker) dispatch(id string) error {
	if w.closing {
		return nil
	}
	if _, ok := w.inFlight[id]; ok {
		return nil
	}
	if rs := w.retries[id]; rs != nil && rs.timer != nil {
		return nil
	}
	pw, ok, err := w.e.store.GetPending(context.Background(), w.col, id)
	if err != nil {
		return err
	}
	if !ok || pw.Failed {
		return nil
	}

	w.inFlight[id] = &flight{}
	w.e.writes.Add(1)
	go w.send(id)
	return nil
}

// send waits for an in-flight slot, then writes the latest pending value.
func (w *collectionWorker) send(id string) {
	defer w.e.writes.Done()

	if err := w.sem.Acquire(w.e.writeCtx, 1); err != nil {
		w.mu.Lock()
		delete(w.inFlight, id)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	pw, ok, err := w.beginAttempt(id)
	w.mu.Unlock()
	if err != nil || !ok {
		w.sem.Release(1)
		if err != nil {
			w.e.fail(err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.e.opts.WriteTimeout)
	var version int64
	if pw.Delete {
		version, err = w.e.client.DeleteRecord(ctx, w.col, id, pw.BaseVersion)
	} else {
		version, err = w.e.client.WriteRecord(ctx, w.col, id, pw.Payload, pw.BaseVersion)
	}
	cancel()
	w.sem.Release(1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.complete(pw, version, err); err != nil {
		w.e.fail(err)
	}
}

// beginAttempt marks the latest pending write for id as sent. It returns
// false and releases the reservation when there is nothing left to send.
func (w *collectionWorker) beginAttempt(id string) (types.PendingWrite, bool, error) {
	ctx := context.Background()
	pw, ok, err := w.e.store.GetPending(ctx, w.col, id)
	if err != nil || !ok || pw.Failed {
		delete(w.inFlight, id)
		return types.PendingWrite{}, false, err
	}

	pw.Sent = true
	pw.AttemptCount++
	pw.LastAttemptAt = time.Now().UTC()
	if err := w.e.store.PutPending(ctx, pw); err != nil {
		delete(w.inFlight, id)
		return types.PendingWrite{}, false, err
	}
	w.inFlight[id] = &flight{sent: true, base: pw.BaseVersion, payload: pw.Payload, delete: pw.Delete}
	if err := w.transition(ctx, id, types.StateInFlight, nil); err != nil {
		delete(w.inFlight, id)
		return types.PendingWrite{}, false, err
	}
	return pw, true, nil
}

// complete settles a finished write. Must be called with mu held.
func (w *collectionWorker) complete(sent types.PendingWrite, version int64, werr error) error {
	ctx := context.Background()
	id := sent.RecordID
	path := codec.Path(w.col, id)
	st := w.e.store

	delete(w.inFlight, id)
	stashed := w.stash[id]
	delete(w.stash, id)

	cur, hasCur, err := st.GetPending(ctx, w.col, id)
	if err != nil {
		return err
	}
	superseded := !hasCur || cur.Token != sent.Token

	if werr == nil {
		w.e.metrics.writes.WithLabelValues(string(w.col), outcomeAcked).Inc()
		w.clearRetry(id)
		switch {
		case superseded && hasCur:
			if err := w.rebase(ctx, cur, sent, version); err != nil {
				return err
			}
		case superseded:
		case sent.Delete:
			if err := st.ApplyRemote(ctx, types.ChangeEvent{
				Collection:    w.col,
				RecordID:      id,
				RemoteVersion: version,
				Kind:          types.EventRemoved,
			}); err != nil {
				return err
			}
		default:
			if err := st.MarkClean(ctx, w.col, id, version); err != nil {
				return err
			}
		}
		w.resolve(sent.Token, version, nil)
		w.logger.Debug("write acknowledged", "record_id", id, "version", version, "superseded", superseded)
		if !superseded {
			if err := w.transition(ctx, id, types.StateClean, nil); err != nil {
				return err
			}
		}
		return w.settle(id, stashed, superseded)
	}

	switch remote.KindOf(werr) {
	case remote.KindRejected:
		w.e.metrics.writes.WithLabelValues(string(w.col), outcomeRejected).Inc()
		w.logger.Warn("write rejected", "record_id", id, "error", werr)
		if superseded {
			break
		}
		rejected := errors.Wrapf(ErrRejected, "%s: %v", path, werr)
		if err := w.transition(ctx, id, types.StateConflict, rejected); err != nil {
			return err
		}
		if err := w.rollback(ctx, sent); err != nil {
			return err
		}
		w.resolve(sent.Token, 0, rejected)
		if err := w.transition(ctx, id, types.StateClean, nil); err != nil {
			return err
		}

	case remote.KindStale:
		w.e.metrics.writes.WithLabelValues(string(w.col), outcomeStale).Inc()
		w.e.metrics.conflicts.WithLabelValues(string(w.col)).Inc()
		w.logger.Info("write based on stale version", "record_id", id, "base_version", sent.BaseVersion)
		stale := errors.Wrapf(ErrConflict, "%s: remote changed since version %d", path, sent.BaseVersion)
		w.resolve(sent.Token, 0, stale)
		if !hasCur {
			if err := w.transition(ctx, id, types.StateClean, nil); err != nil {
				return err
			}
			return w.settle(id, stashed, false)
		}
		cur.Sent = false
		if err := st.PutPending(ctx, cur); err != nil {
			return err
		}
		if err := w.transition(ctx, id, types.StateConflict, stale); err != nil {
			return err
		}
		// The newer remote value arrives on the change stream and settles
		// the key through the resolver.
		return w.settle(id, stashed, false)

	default:
		w.e.metrics.writes.WithLabelValues(string(w.col), outcomeTransient).Inc()
		if superseded {
			break
		}
		cur.Sent = false
		wait, stop := w.retryFor(id).backoff.Next()
		if stop || cur.AttemptCount >= w.e.opts.MaxAttempts {
			cur.Failed = true
			if err := st.PutPending(ctx, cur); err != nil {
				return err
			}
			w.clearRetry(id)
			w.e.metrics.writes.WithLabelValues(string(w.col), outcomeFailed).Inc()
			failed := errors.Wrapf(ErrSyncFailed, "%s after %d attempts: %v", path, cur.AttemptCount, werr)
			w.logger.Error("write failed", "record_id", id, "attempts", cur.AttemptCount, "error", werr)
			w.resolve(sent.Token, 0, failed)
			if err := w.transition(ctx, id, types.StateDirty, failed); err != nil {
				return err
			}
			break
		}
		if err := st.PutPending(ctx, cur); err != nil {
			return err
		}
		w.scheduleRetry(id, wait)
		w.e.metrics.retries.WithLabelValues(string(w.col)).Inc()
		w.logger.Debug("write will be retried", "record_id", id, "attempt", cur.AttemptCount, "retry_in", wait, "error", werr)
		if err := w.transition(ctx, id, types.StateDirty, nil); err != nil {
			return err
		}
	}
	return w.settle(id, stashed, superseded)
}

// settle applies events held back while id was in flight, then sends a
// newer edit if one is queued.
func (w *collectionWorker) settle(id string, stashed []types.ChangeEvent, redispatch bool) error {
	ctx := context.Background()
	for _, ev := range stashed {
		if err := w.applyEvent(ctx, ev); err != nil {
			return err
		}
	}
	if redispatch {
		return w.dispatch(id)
	}
	return nil
}

// rebase moves a newer queued edit onto the version the remote just
// acknowledged for an older one.
func (w *collectionWorker) rebase(ctx context.Context, cur, acked types.PendingWrite, version int64) error {
	cur.BaseVersion = version
	cur.BasePayload = nil
	if !acked.Delete {
		cur.BasePayload = codec.Clone(acked.Payload)
	}
	if cur.Delete {
		return w.e.store.StageDelete(ctx, cur)
	}
	return w.e.store.StageEdit(ctx, types.Record{
		Collection: w.col,
		ID:         cur.RecordID,
		Version:    version,
		Payload:    cur.Payload,
		Dirty:      true,
		UpdatedAt:  time.Now().UTC(),
	}, cur)
}

// rollback restores the value a rejected write was based on.
func (w *collectionWorker) rollback(ctx context.Context, sent types.PendingWrite) error {
	st := w.e.store
	if sent.BaseVersion == 0 {
		if err := st.Delete(ctx, w.col, sent.RecordID); err != nil {
			return err
		}
		return st.ClearTombstone(ctx, w.col, sent.RecordID)
	}
	return st.ApplyRemote(ctx, types.ChangeEvent{
		Collection:    w.col,
		RecordID:      sent.RecordID,
		Payload:       sent.BasePayload,
		RemoteVersion: sent.BaseVersion,
		Kind:          types.EventUpdated,
	})
}

// handleEvent takes one event from the change stream.
func (w *collectionWorker) handleEvent(ev types.ChangeEvent) error {
	if ev.RecordID == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.receive(context.Background(), ev)
}

// receive holds ev back while its key is in flight and applies it otherwise.
// Must be called with mu held.
func (w *collectionWorker) receive(ctx context.Context, ev types.ChangeEvent) error {
	id := ev.RecordID
	if f := w.inFlight[id]; f != nil && f.sent {
		if ev.RemoteVersion <= f.base {
			w.e.metrics.events.WithLabelValues(string(w.col), eventDropped).Inc()
			return nil
		}
		w.stash[id] = append(w.stash[id], ev)
		w.e.metrics.events.WithLabelValues(string(w.col), eventStashed).Inc()
		if isEcho(f.delete, f.payload, ev) || w.states[id] == types.StateConflict {
			return nil
		}
		return w.transition(ctx, id, types.StateConflict,
			errors.Wrapf(ErrConflict, "%s: remote changed while a write was in flight", codec.Path(w.col, id)))
	}
	return w.applyEvent(ctx, ev)
}

// applyEvent merges ev into the cache. Must be called with mu held and id
// not in flight.
func (w *collectionWorker) applyEvent(ctx context.Context, ev types.ChangeEvent) error {
	st := w.e.store
	id := ev.RecordID

	cur, exists, err := st.Get(ctx, w.col, id)
	if err != nil {
		return err
	}
	pw, hasPending, err := st.GetPending(ctx, w.col, id)
	if err != nil {
		return err
	}
	tombVersion, tombstoned, err := st.GetTombstone(ctx, w.col, id)
	if err != nil {
		return err
	}

	known := int64(-1)
	switch {
	case exists:
		known = cur.Version
	case hasPending:
		known = pw.BaseVersion
	case tombstoned:
		known = tombVersion
	}
	if ev.RemoteVersion <= known {
		w.e.metrics.events.WithLabelValues(string(w.col), eventDropped).Inc()
		return nil
	}

	if !hasPending {
		if err := st.ApplyRemote(ctx, ev); err != nil {
			return err
		}
		w.e.metrics.events.WithLabelValues(string(w.col), eventApplied).Inc()
		return w.transition(ctx, id, types.StateClean, nil)
	}

	// Events at or below the base were dropped above, so the remote wins.
	res := conflict.Merge(&pw, ev)
	w.e.metrics.events.WithLabelValues(string(w.col), eventMerged).Inc()
	if err := st.ApplyRemote(ctx, ev); err != nil {
		return err
	}
	w.clearRetry(id)

	if isEcho(pw.Delete, pw.Payload, ev) {
		// The remote already holds the local value; an earlier attempt
		// landed without its acknowledgement reaching us.
		w.resolve(pw.Token, ev.RemoteVersion, nil)
		return w.transition(ctx, id, types.StateClean, nil)
	}
	if res.Conflict {
		w.e.metrics.conflicts.WithLabelValues(string(w.col)).Inc()
		lost := errors.Wrapf(ErrConflict, "%s: %s", codec.Path(w.col, id), res.Reason)
		w.logger.Info("local edit overruled by remote", "record_id", id,
			"base_version", pw.BaseVersion, "remote_version", ev.RemoteVersion)
		w.resolve(pw.Token, 0, lost)
		if w.states[id] != types.StateConflict {
			if err := w.transition(ctx, id, types.StateConflict, lost); err != nil {
				return err
			}
		}
	} else {
		w.resolve(pw.Token, ev.RemoteVersion, nil)
	}
	return w.transition(ctx, id, types.StateClean, nil)
}

// isEcho reports whether ev carries the value a local write would produce.
func isEcho(del bool, payload types.Payload, ev types.ChangeEvent) bool {
	if del || ev.Kind == types.EventRemoved {
		return del && ev.Kind == types.EventRemoved
	}
	return codec.Equal(payload, ev.Payload)
}

// flush dispatches every queued write now. With includeFailed, writes that
// ran out of retries are revived first. It returns the number dispatched
// and the number revived.
func (w *collectionWorker) flush(includeFailed bool) (int, int, error) {
	ctx := context.Background()
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := w.e.store.ListPending(ctx, w.col)
	if err != nil {
		return 0, 0, err
	}
	dispatched, revived := 0, 0
	for _, pw := range pending {
		id := pw.RecordID
		if _, ok := w.inFlight[id]; ok {
			continue
		}
		if pw.Failed {
			if !includeFailed {
				continue
			}
			pw.Failed = false
			pw.AttemptCount = 0
			if err := w.e.store.PutPending(ctx, pw); err != nil {
				return dispatched, revived, err
			}
			if err := w.transition(ctx, id, types.StateDirty, nil); err != nil {
				return dispatched, revived, err
			}
			revived++
		} else if w.states[id] == types.StateConflict {
			continue
		}
		w.clearRetry(id)
		if err := w.dispatch(id); err != nil {
			return dispatched, revived, err
		}
		dispatched++
	}
	return dispatched, revived, nil
}

func (w *collectionWorker) retryFor(id string) *retryState {
	rs := w.retries[id]
	if rs == nil {
		b := retry.NewExponential(w.e.opts.InitialBackoff)
		b = retry.WithCappedDuration(w.e.opts.MaxBackoff, b)
		b = retry.WithJitterPercent(10, b)
		b = retry.WithMaxRetries(uint64(max(w.e.opts.MaxAttempts-1, 0)), b)
		rs = &retryState{backoff: b}
		w.retries[id] = rs
	}
	return rs
}

func (w *collectionWorker) scheduleRetry(id string, wait time.Duration) {
	if w.closing {
		return
	}
	rs := w.retryFor(id)
	rs.gen++
	gen := rs.gen
	rs.timer = time.AfterFunc(wait, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.retries[id] != rs || rs.gen != gen {
			return
		}
		rs.timer = nil
		if err := w.dispatch(id); err != nil {
			w.e.fail(err)
		}
	})
}

// clearRetry drops the backoff of id and any scheduled retry.
func (w *collectionWorker) clearRetry(id string) {
	rs := w.retries[id]
	if rs == nil {
		return
	}
	rs.gen++
	if rs.timer != nil {
		rs.timer.Stop()
	}
	delete(w.retries, id)
}

func (w *collectionWorker) resolve(token string, version int64, err error) {
	if a, ok := w.acks[token]; ok {
		a.resolve(version, err)
		delete(w.acks, token)
	}
}

func (w *collectionWorker) setState(id string, s types.SyncState) {
	if s == types.StateClean {
		delete(w.states, id)
	} else {
		w.states[id] = s
	}
	w.e.metrics.dirty.WithLabelValues(string(w.col)).Set(float64(len(w.states)))
}

// transition records the new state of id and notifies observers with the
// cached value. Must be called with mu held.
func (w *collectionWorker) transition(ctx context.Context, id string, s types.SyncState, cause error) error {
	w.setState(id, s)
	if len(w.observers) == 0 {
		return nil
	}
	rec, ok, err := w.e.store.Get(ctx, w.col, id)
	if err != nil {
		return err
	}
	n := types.Notification{Record: rec, State: s, Err: cause}
	if !ok {
		n.Record = types.Record{Collection: w.col, ID: id}
		n.Removed = true
	}
	for o := range w.observers {
		o.push(n)
	}
	return nil
}

func (w *collectionWorker) state(id string) types.SyncState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.states[id]; ok {
		return s
	}
	return types.StateClean
}

// observe registers an observer together with a snapshot of the cache, so
// no transition falls between the two.
func (w *collectionWorker) observe(ctx context.Context) (*observer, []types.Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	records, err := w.e.store.List(ctx, w.col)
	if err != nil {
		return nil, nil, err
	}
	snapshot := make([]types.Notification, len(records))
	for i, rec := range records {
		s, ok := w.states[rec.ID]
		if !ok {
			s = types.StateClean
		}
		snapshot[i] = types.Notification{Record: rec, State: s}
	}
	obs := newObserver()
	if w.closing {
		obs.close()
	} else {
		w.observers[obs] = struct{}{}
	}
	return obs, snapshot, nil
}

func (w *collectionWorker) unobserve(obs *observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.observers, obs)
}

// stopRetries cancels scheduled retries and blocks new dispatches.
func (w *collectionWorker) stopRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = true
	for id := range w.retries {
		w.clearRetry(id)
	}
}

// shutdown ends every observer and settles acks that can no longer complete.
func (w *collectionWorker) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for o := range w.observers {
		o.close()
	}
	clear(w.observers)
	for token := range w.acks {
		w.resolve(token, 0, ErrClosed)
	}
}
