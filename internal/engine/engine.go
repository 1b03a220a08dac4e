// Package engine keeps the local cache in step with the remote studio store.
//
// Local edits are applied to the cache first and marked dirty, then written
// to the remote in the background. Remote change streams are applied to the
// cache as they arrive; a remote change that races a pending local edit is
// resolved by the conflict package, with the remote store authoritative.
package engine

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/studiosync/internal/codec"
	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/store"
	"github.com/hyperengineering/studiosync/internal/types"
	"github.com/hyperengineering/studiosync/internal/validation"
)

// metaSession is the sync_meta key holding the id of the last engine session.
const metaSession = "last_session"

// Options tunes the engine. Zero values take the defaults below.
type Options struct {
	// Collections to sync. Defaults to every known collection.
	Collections []types.Collection

	// MaxInFlight caps concurrent remote writes per collection.
	MaxInFlight int
	// MaxAttempts bounds transient retries before a write is marked failed.
	MaxAttempts int

	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	ResubscribeBackoff time.Duration
	WriteTimeout       time.Duration

	// FlushOnClose sends queued writes one last time during Close.
	FlushOnClose bool

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if len(o.Collections) == 0 {
		o.Collections = types.AllCollections()
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.ResubscribeBackoff <= 0 {
		o.ResubscribeBackoff = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine is the sync engine. The cache is mutated only through it.
type Engine struct {
	store   store.Store
	client  remote.Client
	opts    Options
	logger  *slog.Logger
	metrics *metrics
	workers map[types.Collection]*collectionWorker

	mu         sync.Mutex
	started    bool
	closed     bool
	failed     error
	session    string
	group      *errgroup.Group
	stopSubs   context.CancelFunc
	stopWrites context.CancelFunc

	// writeCtx bounds waiting for an in-flight slot; canceled at the end of Close.
	writeCtx context.Context
	writes   sync.WaitGroup
}

// New creates an engine over a local store and a remote client. The store
// stays owned by the caller and is never closed by the engine.
func New(st store.Store, client remote.Client, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		store:   st,
		client:  client,
		opts:    opts,
		logger:  opts.Logger.With("component", "engine"),
		metrics: newMetrics(opts.Registerer),
		workers: make(map[types.Collection]*collectionWorker, len(opts.Collections)),
	}
	for _, c := range opts.Collections {
		e.workers[c] = newCollectionWorker(e, c)
	}
	return e
}

// Start loads the pending-write ledger and starts one worker per collection.
// Writes left in flight by a previous process are queued again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}

	for _, w := range e.workers {
		if err := w.load(ctx); err != nil {
			e.mu.Unlock()
			return errors.Mark(errors.Wrapf(err, "load pending writes for %s", w.col), ErrEngineFailed)
		}
	}

	e.session = uuid.NewString()
	if err := e.store.SetMeta(ctx, metaSession, e.session); err != nil {
		e.mu.Unlock()
		return errors.Mark(errors.Wrap(err, "record session"), ErrEngineFailed)
	}

	base := context.WithoutCancel(ctx)
	subCtx, stopSubs := context.WithCancel(base)
	e.writeCtx, e.stopWrites = context.WithCancel(base)
	e.stopSubs = stopSubs

	g, gctx := errgroup.WithContext(subCtx)
	for _, w := range e.workers {
		g.Go(func() error { return w.run(gctx) })
	}
	e.group = g
	e.started = true
	e.mu.Unlock()

	e.logger.Info("engine started",
		"session", e.session,
		"collections", len(e.workers),
		"max_in_flight", e.opts.MaxInFlight,
	)

	for _, w := range e.workers {
		if _, _, err := w.flush(false); err != nil {
			return e.fail(err)
		}
	}
	return nil
}

// Close stops subscriptions, optionally flushes queued writes and waits for
// in-flight writes until they finish or ctx expires. Unsettled acks resolve
// with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.closed = true
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	g, stopSubs, stopWrites := e.group, e.stopSubs, e.stopWrites
	e.mu.Unlock()

	stopSubs()
	_ = g.Wait()

	if e.opts.FlushOnClose {
		for _, w := range e.workers {
			if _, _, err := w.flush(false); err != nil {
				e.logger.Warn("final flush failed", "collection", w.col, "error", err)
			}
		}
	}
	for _, w := range e.workers {
		w.stopRetries()
	}

	done := make(chan struct{})
	go func() {
		e.writes.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "wait for in-flight writes")
	}
	stopWrites()

	for _, w := range e.workers {
		w.shutdown()
	}
	e.logger.Info("engine closed", "session", e.session)
	return err
}

// fail records a local storage fault. The engine stops following the remote
// and every later call returns the returned error.
func (e *Engine) fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		e.failed = errors.Mark(errors.Wrap(cause, "local storage fault"), ErrEngineFailed)
		e.logger.Error("engine failed", "error", cause)
		if e.stopSubs != nil {
			e.stopSubs()
		}
	}
	return e.failed
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.failed != nil:
		return e.failed
	case e.closed:
		return ErrClosed
	case !e.started:
		return ErrNotStarted
	}
	return nil
}

func (e *Engine) worker(c types.Collection) (*collectionWorker, error) {
	w, ok := e.workers[c]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCollection, "%q", c)
	}
	return w, nil
}

// SubmitEdit stages payload as the new value of c/id and queues it for the
// remote. An empty id creates a record under a new id, reported by the ack.
func (e *Engine) SubmitEdit(ctx context.Context, c types.Collection, id string, payload types.Payload) (*Ack, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	w, err := e.worker(c)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.Contains(id, "/") {
		return nil, errors.Wrapf(ErrInvalidPayload, "record id %q contains '/'", id)
	}
	if errs := validation.ValidatePayload(c, payload); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, ve := range errs {
			msgs[i] = ve.Error()
		}
		return nil, errors.Wrapf(ErrInvalidPayload, "%s: %s", codec.Path(c, id), strings.Join(msgs, "; "))
	}
	return w.submit(ctx, id, payload, false)
}

// SubmitDelete stages the removal of c/id.
func (e *Engine) SubmitDelete(ctx context.Context, c types.Collection, id string) (*Ack, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	w, err := e.worker(c)
	if err != nil {
		return nil, err
	}
	return w.submit(ctx, id, nil, true)
}

// RecreateRecord stores payload under a fresh id. Use it to bring back a
// record whose old id was removed.
func (e *Engine) RecreateRecord(ctx context.Context, c types.Collection, payload types.Payload) (*Ack, error) {
	return e.SubmitEdit(ctx, c, "", payload)
}

// RetryFailed queues writes that ran out of retries again and returns how
// many were revived. An empty collection means all collections.
func (e *Engine) RetryFailed(ctx context.Context, c types.Collection) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	workers, err := e.selectWorkers(c)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, w := range workers {
		_, revived, err := w.flush(true)
		if err != nil {
			return total, err
		}
		total += revived
	}
	if total > 0 {
		e.logger.Info("failed writes queued again", "collection", c, "count", total)
	}
	return total, nil
}

// Flush sends every queued write that is not waiting on a conflict or marked
// failed, skipping any retry backoff. It returns the number dispatched.
func (e *Engine) Flush(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	total := 0
	for _, w := range e.workers {
		n, _, err := w.flush(false)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) selectWorkers(c types.Collection) ([]*collectionWorker, error) {
	if c == "" {
		out := make([]*collectionWorker, 0, len(e.opts.Collections))
		for _, col := range e.opts.Collections {
			out = append(out, e.workers[col])
		}
		return out, nil
	}
	w, err := e.worker(c)
	if err != nil {
		return nil, err
	}
	return []*collectionWorker{w}, nil
}

// GetRecord reads one record from the cache.
func (e *Engine) GetRecord(ctx context.Context, c types.Collection, id string) (types.Record, bool, error) {
	if _, err := e.worker(c); err != nil {
		return types.Record{}, false, err
	}
	return e.store.Get(ctx, c, id)
}

// ListRecords reads a whole collection from the cache, ordered by id.
func (e *Engine) ListRecords(ctx context.Context, c types.Collection) ([]types.Record, error) {
	if _, err := e.worker(c); err != nil {
		return nil, err
	}
	return e.store.List(ctx, c)
}

// FindRecords returns the cached records whose payload holds value at the
// gjson path field, e.g. FindRecords(ctx, "classes", "teacher", "Ana").
// Array fields match when any element equals value.
func (e *Engine) FindRecords(ctx context.Context, c types.Collection, field, value string) ([]types.Record, error) {
	records, err := e.ListRecords(ctx, c)
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, rec := range records {
		data, err := codec.Marshal(rec.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", codec.Path(c, rec.ID))
		}
		if matches(gjson.GetBytes(data, field), value) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(res gjson.Result, value string) bool {
	if !res.Exists() {
		return false
	}
	if res.IsArray() {
		found := false
		res.ForEach(func(_, el gjson.Result) bool {
			found = el.String() == value
			return !found
		})
		return found
	}
	return res.String() == value
}

// State returns the sync state of c/id. Unknown keys are clean.
func (e *Engine) State(c types.Collection, id string) (types.SyncState, error) {
	w, err := e.worker(c)
	if err != nil {
		return "", err
	}
	return w.state(id), nil
}

// ObserveCollection yields the current content of c as clean or pending
// notifications, then every later transition until ctx is done or the
// engine closes. Each range starts over with a fresh snapshot.
func (e *Engine) ObserveCollection(ctx context.Context, c types.Collection) iter.Seq[types.Notification] {
	return func(yield func(types.Notification) bool) {
		if err := e.ready(); err != nil {
			yield(types.Notification{Err: err})
			return
		}
		w, err := e.worker(c)
		if err != nil {
			yield(types.Notification{Err: err})
			return
		}
		obs, snapshot, err := w.observe(ctx)
		if err != nil {
			yield(types.Notification{Err: err})
			return
		}
		defer w.unobserve(obs)

		for _, n := range snapshot {
			if !yield(n) {
				return
			}
		}
		for {
			n, ok := obs.next(ctx)
			if !ok || !yield(n) {
				return
			}
		}
	}
}
