package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func TestPoolRetriesRetriableErrorsThenSucceeds(t *testing.T) {
	var attempts int32
	runner := func(ctx context.Context, task Task) (map[string]any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, xerrors.New(xerrors.SourceConnectionFailed, "transient")
		}
		return map[string]any{"rows_written": 10}, nil
	}

	p := NewPool(runner, 1, 3, time.Millisecond, nil)
	defer p.Close()

	h := p.Enqueue(Task{ID: "t1", Command: "transfer"})
	if err := h.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if h.Status() != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s (err=%v)", h.Status(), h.Error())
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestPoolDoesNotRetryNonRetriableErrors(t *testing.T) {
	var attempts int32
	runner := func(ctx context.Context, task Task) (map[string]any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, xerrors.New(xerrors.SourceStreamDoesNotExist, "no such table")
	}

	p := NewPool(runner, 1, 3, time.Millisecond, nil)
	defer p.Close()

	h := p.Enqueue(Task{ID: "t2", Command: "transfer"})
	if err := h.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if h.Status() != StatusFailure {
		t.Fatalf("expected FAILURE, got %s", h.Status())
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retriable error, got %d", attempts)
	}
}

func TestPoolExhaustsRetriesOnPersistentRetriableError(t *testing.T) {
	var attempts int32
	runner := func(ctx context.Context, task Task) (map[string]any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, xerrors.New(xerrors.DestinationConnectionFailed, "still down")
	}

	p := NewPool(runner, 1, 2, time.Millisecond, nil)
	defer p.Close()

	h := p.Enqueue(Task{ID: "t3", Command: "transfer"})
	if err := h.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if h.Status() != StatusFailure {
		t.Fatalf("expected FAILURE, got %s", h.Status())
	}
	if atomic.LoadInt32(&attempts) != 3 { // initial attempt + 2 retries
		t.Fatalf("expected 3 total attempts (maxRetries=2), got %d", attempts)
	}
}

func TestHandleStampsRetryMetadata(t *testing.T) {
	var seen []Task
	runner := func(ctx context.Context, task Task) (map[string]any, error) {
		seen = append(seen, task)
		if len(seen) < 2 {
			return nil, xerrors.New(xerrors.SourceConnectionFailed, "retry me")
		}
		return nil, nil
	}

	p := NewPool(runner, 1, 3, time.Millisecond, nil)
	defer p.Close()

	h := p.Enqueue(Task{ID: "t4"})
	if err := h.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(seen))
	}
	if seen[0].RetryCount != 0 || seen[1].RetryCount != 1 {
		t.Fatalf("expected retry_count 0 then 1, got %d then %d", seen[0].RetryCount, seen[1].RetryCount)
	}
	if seen[0].RetryLimit != 3 {
		t.Fatalf("expected retry_limit 3 stamped on task, got %d", seen[0].RetryLimit)
	}
}
