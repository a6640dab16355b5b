package queue

import "context"

// Queue is the message transport between the dispatch bridge's producer
// and consumer sides. Delivery is at-least-once and unordered; consumers
// must tolerate replays and must never assume enqueue order.
type Queue interface {
	// Publish enqueues one payload on the named queue.
	Publish(ctx context.Context, name string, payload []byte) error

	// Consume runs fn for every payload received on the named queue,
	// fanned out across a fixed number of workers. It blocks until ctx is
	// canceled. fn is never given a partial payload; anything fn does
	// with a bad message is its own business (the bridge logs and drops).
	Consume(ctx context.Context, name string, workers int, fn func(payload []byte))
}
