package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"regprobe/internal/shared/logger"
)

const popTimeout = time.Second

// RedisQueue implements Queue on redis lists: LPUSH to publish, BRPOP to
// consume. Every worker runs its own blocking pop loop, so concurrency is
// exactly the worker count.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Publish(ctx context.Context, name string, payload []byte) error {
	return q.rdb.LPush(ctx, name, payload).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, name string, workers int, fn func([]byte)) {
	if workers <= 0 {
		workers = 1
	}
	l := logger.WithComponent("Queue/Redis")
	l.Info().Str("queue", name).Int("workers", workers).Msg("Consumer starting.")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				res, err := q.rdb.BRPop(ctx, popTimeout, name).Result()
				if errors.Is(err, redis.Nil) {
					continue // queue empty, poll again
				}
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					l.Warn().Str("queue", name).Err(err).Msg("Pop failed, backing off.")
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
					continue
				}
				// BRPOP returns [key, value].
				if len(res) == 2 {
					fn([]byte(res[1]))
				}
			}
		}()
	}
	wg.Wait()
	l.Info().Str("queue", name).Msg("Consumer stopped.")
}
