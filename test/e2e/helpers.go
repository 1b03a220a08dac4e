package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/studiosync/internal/api"
	"github.com/hyperengineering/studiosync/internal/engine"
	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/store"
	"github.com/hyperengineering/studiosync/internal/types"
)

const (
	testToken = "e2e-token"
	waitFor   = 5 * time.Second
	tick      = 10 * time.Millisecond
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRemote is a hub served over HTTP that can be taken offline. Going
// offline drops every WebSocket connection and refuses new ones.
type testRemote struct {
	t   *testing.T
	hub *remote.Hub
	srv *httptest.Server

	mu      sync.Mutex
	handler *api.Handler
	router  http.Handler
}

func newTestRemote(t *testing.T) *testRemote {
	t.Helper()
	r := &testRemote{t: t, hub: remote.NewHub(quietLogger())}
	r.online()
	r.srv = httptest.NewServer(http.HandlerFunc(r.serveHTTP))
	t.Cleanup(func() {
		r.offline()
		r.srv.Close()
	})
	return r
}

func (r *testRemote) serveHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	router := r.router
	r.mu.Unlock()
	if router == nil {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, req)
}

func (r *testRemote) online() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return
	}
	r.handler = api.NewHandler(r.hub, nil, testToken, "e2e", time.Second)
	r.router = api.NewRouter(r.handler)
}

func (r *testRemote) offline() {
	r.mu.Lock()
	h := r.handler
	r.handler, r.router = nil, nil
	r.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// waitConnected waits until every collection has n subscribers.
func (r *testRemote) waitConnected(n int) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		for _, c := range types.AllCollections() {
			if r.hub.Watchers(c) != n {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func (r *testRemote) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

// write changes a record on the remote the way another admin would.
func (r *testRemote) write(c types.Collection, id string, p types.Payload) int64 {
	r.t.Helper()
	recs, err := r.hub.Snapshot(c)
	require.NoError(r.t, err)
	var base int64
	for _, rec := range recs {
		if rec.ID == id {
			base = rec.Version
		}
	}
	v, err := r.hub.WriteRecord(context.Background(), c, id, p, base)
	require.NoError(r.t, err)
	return v
}

func (r *testRemote) record(c types.Collection, id string) (types.Record, bool) {
	recs, err := r.hub.Snapshot(c)
	require.NoError(r.t, err)
	for _, rec := range recs {
		if rec.ID == id {
			return rec, true
		}
	}
	return types.Record{}, false
}

// newClient starts an engine with its own cache connected to r.
func newClient(t *testing.T, r *testRemote) *engine.Engine {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	client := remote.NewWSClient(remote.WSConfig{
		URL:          r.wsURL(),
		AuthToken:    testToken,
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
		Logger:       quietLogger(),
	})
	e := engine.New(st, client, engine.Options{
		MaxAttempts:        50,
		InitialBackoff:     10 * time.Millisecond,
		MaxBackoff:         50 * time.Millisecond,
		ResubscribeBackoff: 20 * time.Millisecond,
		WriteTimeout:       time.Second,
		Logger:             quietLogger(),
		Registerer:         prometheus.NewRegistry(),
	})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = e.Close(ctx)
		client.Close()
		st.Close()
	})
	return e
}

func waitAck(t *testing.T, ack *engine.Ack) (int64, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	v, err := ack.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "ack never settled")
	return v, err
}

// waitRecord polls the client's cache until cond holds.
func waitRecord(t *testing.T, e *engine.Engine, c types.Collection, id string, cond func(types.Record, bool) bool) types.Record {
	t.Helper()
	var rec types.Record
	require.Eventually(t, func() bool {
		r, ok, err := e.GetRecord(context.Background(), c, id)
		if err != nil {
			return false
		}
		rec = r
		return cond(r, ok)
	}, waitFor, tick)
	return rec
}

func waitState(t *testing.T, e *engine.Engine, c types.Collection, id string, want types.SyncState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := e.State(c, id)
		return err == nil && s == want
	}, waitFor, tick)
}
