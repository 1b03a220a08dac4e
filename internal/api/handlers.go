package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/types"
	"github.com/hyperengineering/studiosync/internal/validation"
)

// maxBodyBytes caps request bodies of replace and webhook calls.
const maxBodyBytes = 8 << 20

// Handler serves the remote studio store over HTTP and WebSocket.
type Handler struct {
	hub          *remote.Hub
	registry     *prometheus.Registry
	apiKey       string
	version      string
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	requests     *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler creates a Handler. HTTP metrics are registered on reg, which
// is also what /metrics exposes; a nil reg disables both.
func NewHandler(hub *remote.Hub, reg *prometheus.Registry, apiKey, version string, writeTimeout time.Duration) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		hub:          hub,
		registry:     reg,
		apiKey:       apiKey,
		version:      version,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			// Clients authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by status code and method.",
		}, []string{"code", "method"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "http",
			Name:      "webhooks_total",
			Help:      "Accepted webhook deliveries by webhook name.",
		}, []string{"webhook"}),
		logger: slog.Default().With("component", "api"),
		ctx:    ctx,
		cancel: cancel,
	}
	if reg != nil {
		reg.MustRegister(h.requests, h.webhooks)
	}
	return h
}

// Close disconnects every WebSocket client. Hijacked connections are not
// tracked by http.Server, so shutdown must call this after Shutdown.
func (h *Handler) Close() {
	h.cancel()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "healthy", Version: h.version}
	for _, c := range types.AllCollections() {
		records, err := h.hub.Snapshot(c)
		if err != nil {
			MapRemoteError(w, r, err)
			return
		}
		v, err := h.hub.Version(c)
		if err != nil {
			MapRemoteError(w, r, err)
			return
		}
		resp.Collections = append(resp.Collections, types.CollectionHealth{
			Collection: c,
			Records:    len(records),
			Version:    v,
			Watchers:   h.hub.Watchers(c),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeWS handles GET /ws: the realtime protocol used by remote.WSClient.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err, "request_id", GetRequestID(r.Context()))
		return
	}
	conn := remote.NewConn(ws, h.writeTimeout)
	defer conn.Close()

	stop := context.AfterFunc(h.ctx, func() { conn.Close() })
	defer stop()

	h.logger.Info("client connected", "remote_addr", r.RemoteAddr, "request_id", GetRequestID(r.Context()))
	err = h.hub.ServeConn(h.ctx, conn)
	h.logger.Info("client disconnected", "remote_addr", r.RemoteAddr, "reason", err)
}

// GetCollection handles GET /api/v1/collections/{collection}
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c := MustCollectionFromContext(r.Context())

	records, err := h.hub.Snapshot(c)
	if err != nil {
		MapRemoteError(w, r, err)
		return
	}
	v, err := h.hub.Version(c)
	if err != nil {
		MapRemoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CollectionDocument{Collection: c, Version: v, Records: records})
}

// ReplaceCollection handles PUT /api/v1/collections/{collection}
func (h *Handler) ReplaceCollection(w http.ResponseWriter, r *http.Request) {
	c := MustCollectionFromContext(r.Context())

	var req types.ReplaceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if req.Records == nil {
		WriteProblem(w, r, http.StatusBadRequest, "records is required")
		return
	}

	if errs := validateReplace(c, req.Records); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Validation failed", errs)
		return
	}

	v, err := h.hub.Replace(r.Context(), c, req.Records)
	if err != nil {
		MapRemoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReplaceResult{Collection: c, Version: v, Count: len(req.Records)})
}

// validateReplace checks every record of a batch, prefixing field names
// with the record id.
func validateReplace(c types.Collection, records map[string]types.Payload) []validation.ValidationError {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var errs []validation.ValidationError
	for _, id := range ids {
		if id == "" || strings.Contains(id, "/") {
			errs = append(errs, validation.ValidationError{Field: "records", Message: "has invalid record id " + strconv.Quote(id)})
			continue
		}
		for _, e := range validation.ValidatePayload(c, records[id]) {
			e.Field = id + "." + e.Field
			errs = append(errs, e)
		}
	}
	return errs
}

// Webhook handles POST /api/v1/webhooks/{name}. Deliveries are accepted and
// logged; the body must be well-formed JSON.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if !gjson.ValidBytes(body) {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.webhooks.WithLabelValues(name).Inc()
	h.logger.Info("webhook received",
		"webhook", name,
		"event", gjson.GetBytes(body, "event").String(),
		"bytes", len(body),
		"request_id", GetRequestID(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, types.WebhookAccepted{Webhook: name, RequestID: GetRequestID(r.Context())})
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
}
