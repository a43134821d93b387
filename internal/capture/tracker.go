package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker remembers submissions already handled so the same form is not
// captured twice while the page keeps reporting it.
type Tracker interface {
	// Track records key for ttl. It returns false when key is already tracked.
	Track(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryTracker is a process-local Tracker.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[string]time.Time), now: time.Now}
}

func (t *MemoryTracker) Track(_ context.Context, key string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, exp := range t.entries {
		if !now.Before(exp) {
			delete(t.entries, k)
		}
	}
	if _, ok := t.entries[key]; ok {
		return false, nil
	}
	t.entries[key] = now.Add(ttl)
	return true, nil
}

const defaultTrackerPrefix = "patient_capture:submission:"

// RedisTracker shares tracked submissions between monitor processes.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client, prefix: defaultTrackerPrefix}
}

func (t *RedisTracker) Track(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("capture: track submission: %w", err)
	}
	return ok, nil
}
