package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/studiosync/internal/types"
)

// mockDispatcher implements Dispatcher for testing.
type mockDispatcher struct {
	mu          sync.Mutex
	flushes     int
	retries     int
	flushErr    error
	retryErr    error
	retryTarget types.Collection
}

func (m *mockDispatcher) Flush(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return 1, m.flushErr
}

func (m *mockDispatcher) RetryFailed(ctx context.Context, c types.Collection) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
	m.retryTarget = c
	return 2, m.retryErr
}

func (m *mockDispatcher) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes, m.retries
}

// waitForFlushes polls until n flushes have happened or timeout expires.
func (m *mockDispatcher) waitForFlushes(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if flushes, _ := m.counts(); flushes >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
			// Poll again
		}
	}
}

func TestRetrySweeper_FlushesOnEveryTick(t *testing.T) {
	// Given a sweeper with a short interval
	engine := &mockDispatcher{}
	sweeper := NewRetrySweeper(engine, 10*time.Millisecond, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// When it runs for a few ticks
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// Then the engine is flushed repeatedly and failed writes are left alone
	if !engine.waitForFlushes(3, 2*time.Second) {
		t.Fatal("expected at least 3 flushes")
	}
	if _, retries := engine.counts(); retries != 0 {
		t.Errorf("RetryFailed called %d times, want 0", retries)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestRetrySweeper_RevivesFailedWhenConfigured(t *testing.T) {
	engine := &mockDispatcher{}
	sweeper := NewRetrySweeper(engine, time.Hour, true)

	sweeper.sweep(context.Background())

	flushes, retries := engine.counts()
	if flushes != 1 || retries != 1 {
		t.Fatalf("flushes=%d retries=%d, want 1 and 1", flushes, retries)
	}
	if engine.retryTarget != "" {
		t.Errorf("RetryFailed collection = %q, want all collections", engine.retryTarget)
	}
}

func TestRetrySweeper_ErrorsDoNotStopTheLoop(t *testing.T) {
	engine := &mockDispatcher{
		flushErr: errors.New("engine failed"),
		retryErr: errors.New("engine failed"),
	}
	sweeper := NewRetrySweeper(engine, 10*time.Millisecond, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	if !engine.waitForFlushes(2, 2*time.Second) {
		t.Fatal("expected the sweeper to keep running after errors")
	}
}

func TestRetrySweeper_StopsImmediatelyWhenCanceled(t *testing.T) {
	engine := &mockDispatcher{}
	sweeper := NewRetrySweeper(engine, time.Hour, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not return for a canceled context")
	}
	if flushes, _ := engine.counts(); flushes != 0 {
		t.Errorf("flushes = %d, want 0", flushes)
	}
}
