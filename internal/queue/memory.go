package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue over buffered channels, used by
// tests and single-process deployments.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	size   int
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		queues: make(map[string]chan []byte),
		size:   size,
	}
}

func (q *MemoryQueue) channel(name string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan []byte, q.size)
		q.queues[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(ctx context.Context, name string, payload []byte) error {
	select {
	case q.channel(name) <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, name string, workers int, fn func([]byte)) {
	if workers <= 0 {
		workers = 1
	}
	ch := q.channel(name)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case payload := <-ch:
					fn(payload)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
}

// Len reports the number of queued payloads, for tests.
func (q *MemoryQueue) Len(name string) int {
	return len(q.channel(name))
}
