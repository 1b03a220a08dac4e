package api

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/studiosync/internal/types"
)

// collectionContextKey is the context key for the resolved collection.
type collectionContextKey struct{}

// ErrNoCollectionInContext indicates no collection was found in the context.
var ErrNoCollectionInContext = errors.New("no collection in context")

// WithCollection returns a new context with the collection attached.
func WithCollection(ctx context.Context, c types.Collection) context.Context {
	return context.WithValue(ctx, collectionContextKey{}, c)
}

// CollectionFromContext extracts the collection from the context.
// Returns ErrNoCollectionInContext if not present or empty.
func CollectionFromContext(ctx context.Context) (types.Collection, error) {
	c, ok := ctx.Value(collectionContextKey{}).(types.Collection)
	if !ok || c == "" {
		return "", ErrNoCollectionInContext
	}
	return c, nil
}

// MustCollectionFromContext extracts the collection or panics.
// Use only when CollectionMiddleware guarantees its presence.
func MustCollectionFromContext(ctx context.Context) types.Collection {
	c, err := CollectionFromContext(ctx)
	if err != nil {
		panic("collection not in context: middleware misconfiguration")
	}
	return c
}

// GetRequestID returns the chi request ID, or "" outside a RequestID chain.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// collectionParam reads the {collection} route parameter.
func collectionParam(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		return rctx.URLParam("collection")
	}
	return ""
}
