package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/studiosync/internal/types"
)

func newGateway(srv *httptest.Server, retries int) *Gateway {
	return New(Config{
		BaseURL:        srv.URL,
		AuthToken:      "secret",
		Timeout:        time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := newGateway(srv, 5).Do(context.Background(), Request{Method: http.MethodGet, URL: "/thing"})

	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	var out map[string]bool
	require.NoError(t, resp.Decode(&out))
	require.True(t, out["ok"])
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newGateway(srv, 2).Do(context.Background(), Request{Method: http.MethodGet, URL: "/thing"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.StatusCode)
	require.Equal(t, int32(3), calls.Load())
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newGateway(srv, 5).Do(context.Background(), Request{Method: http.MethodPost, URL: "/thing", Body: map[string]int{"a": 1}})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	require.Contains(t, se.Error(), "bad payload")
	require.Equal(t, int32(1), calls.Load())
}

func TestDo_PerRequestOverrides(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newGateway(srv, 3).Do(context.Background(), Request{
		Method: http.MethodGet, URL: srv.URL + "/slow", Timeout: 10 * time.Millisecond, MaxRetries: -1,
	})

	require.Error(t, err)
	require.LessOrEqual(t, calls.Load(), int32(1))
}

func TestExportCollection(t *testing.T) {
	var got types.ReplaceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/collections/classes", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &got))
		w.Write([]byte(`{"collection":"classes","version":9,"count":2}`))
	}))
	defer srv.Close()

	res, err := newGateway(srv, 0).ExportCollection(context.Background(), types.CollectionClasses, []types.Record{
		{Collection: types.CollectionClasses, ID: "101", Payload: types.Payload{"name": "Vinyasa"}},
		{ID: "102", Payload: types.Payload{"name": "Yin"}},
	})

	require.NoError(t, err)
	require.Equal(t, int64(9), res.Version)
	require.Len(t, got.Records, 2)
	require.Equal(t, "Vinyasa", got.Records["101"]["name"])
}

func TestExportCollection_WrongCollection(t *testing.T) {
	g := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := g.ExportCollection(context.Background(), types.CollectionClasses, []types.Record{
		{Collection: types.CollectionBookings, ID: "55"},
	})
	require.Error(t, err)
}

func TestFetchCollectionAndWebhook(t *testing.T) {
	var hooked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections/bookings":
			w.Write([]byte(`{"collection":"bookings","records":[{"collection":"bookings","id":"55","version":3,"payload":{"date":"2024-06-01"}}]}`))
		case "/api/v1/webhooks/class-updated":
			hooked.Store(true)
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	g := newGateway(srv, 0)

	records, err := g.FetchCollection(context.Background(), types.CollectionBookings)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(3), records[0].Version)
	require.Equal(t, "2024-06-01", records[0].Payload["date"])

	require.NoError(t, g.PostWebhook(context.Background(), "class-updated", map[string]string{"id": "101"}))
	require.True(t, hooked.Load())
}

func TestDo_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	g := New(Config{BaseURL: srv.URL, RateLimit: 20})

	start := time.Now()
	for range 3 {
		_, err := g.Do(context.Background(), Request{Method: http.MethodGet, URL: "/"})
		require.NoError(t, err)
	}

	// Burst of one at 20/s: the second and third calls each wait ~50ms.
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
