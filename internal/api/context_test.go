package api

import (
	"context"
	"testing"

	"github.com/hyperengineering/studiosync/internal/types"
)

// TestWithCollection_RoundTrip verifies a collection can be added and extracted from context.
func TestWithCollection_RoundTrip(t *testing.T) {
	ctx := WithCollection(context.Background(), types.CollectionInstructors)

	got, err := CollectionFromContext(ctx)
	if err != nil {
		t.Fatalf("CollectionFromContext returned error: %v", err)
	}
	if got != types.CollectionInstructors {
		t.Errorf("collection = %q, want %q", got, types.CollectionInstructors)
	}
}

func TestCollectionFromContext_Missing(t *testing.T) {
	if _, err := CollectionFromContext(context.Background()); err != ErrNoCollectionInContext {
		t.Errorf("error = %v, want ErrNoCollectionInContext", err)
	}
	if _, err := CollectionFromContext(WithCollection(context.Background(), "")); err != ErrNoCollectionInContext {
		t.Errorf("empty collection: error = %v, want ErrNoCollectionInContext", err)
	}
}

func TestMustCollectionFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustCollectionFromContext did not panic")
		}
	}()

	MustCollectionFromContext(context.Background())
}
