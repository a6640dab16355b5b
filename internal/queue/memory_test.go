package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_PublishConsume(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, payload := range []string{"one", "two", "three"} {
		if err := q.Publish(ctx, "jobs", []byte(payload)); err != nil {
			t.Fatalf("Publish() returned an error: %v", err)
		}
	}
	if q.Len("jobs") != 3 {
		t.Fatalf("Expected 3 queued payloads, got %d", q.Len("jobs"))
	}

	var mu sync.Mutex
	got := make(map[string]int)
	done := make(chan struct{})
	go func() {
		q.Consume(ctx, "jobs", 2, func(payload []byte) {
			mu.Lock()
			got[string(payload)]++
			if len(got) == 3 {
				cancel()
			}
			mu.Unlock()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, payload := range []string{"one", "two", "three"} {
		if got[payload] != 1 {
			t.Errorf("Expected payload %q delivered once, got %d", payload, got[payload])
		}
	}
}

func TestMemoryQueue_ConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Consume(ctx, "empty", 3, func([]byte) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not stop on context cancel")
	}
}

func TestMemoryQueue_QueuesAreIndependent(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()

	q.Publish(ctx, "a", []byte("x"))
	q.Publish(ctx, "b", []byte("y"))
	q.Publish(ctx, "b", []byte("z"))

	if q.Len("a") != 1 || q.Len("b") != 2 {
		t.Errorf("Expected independent queues 1/2, got %d/%d", q.Len("a"), q.Len("b"))
	}
}
