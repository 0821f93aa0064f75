package janitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// OrphanSetKey is the Redis set holding object keys awaiting cleanup.
const OrphanSetKey = "bhopmaps:orphans"

// Queue holds object keys whose deletion is still pending. A key pushed
// twice is stored once.
type Queue interface {
	Push(ctx context.Context, keys ...string) error
	// Pop removes and returns up to n keys in no particular order.
	Pop(ctx context.Context, n int) ([]string, error)
	Len(ctx context.Context) (int64, error)
}

// RedisQueue keeps the keys in a Redis set so they survive restarts and are
// shared between replicas.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue wraps client; the set lives under OrphanSetKey.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: OrphanSetKey}
}

func (q *RedisQueue) Push(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := q.client.SAdd(ctx, q.key, members...).Err(); err != nil {
		return fmt.Errorf("orphan queue push: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	keys, err := q.client.SPopN(ctx, q.key, int64(n)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("orphan queue pop: %w", err)
	}
	return keys, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.SCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("orphan queue len: %w", err)
	}
	return n, nil
}

// MemoryQueue is the single-process Queue used when Redis is not configured.
type MemoryQueue struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{keys: make(map[string]struct{})}
}

func (q *MemoryQueue) Push(_ context.Context, keys ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range keys {
		q.keys[k] = struct{}{}
	}
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, min(n, len(q.keys)))
	for k := range q.keys {
		if len(out) >= n {
			break
		}
		out = append(out, k)
		delete(q.keys, k)
	}
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.keys)), nil
}
