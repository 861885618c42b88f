package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/leaselock/auctiond/internal/domain"
)

// CursorStore persists per-consumer stream positions so a watcher can resume
// from where it left off after a restart.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(consumer string) string {
	return "cursor:" + consumer
}

// GetCursor returns the last stream ID processed by the named consumer, or
// an empty string if the consumer has no recorded position.
func (cs *CursorStore) GetCursor(ctx context.Context, consumer string) (string, error) {
	val, err := cs.rdb.Get(ctx, cursorKey(consumer)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get cursor %s: %w", consumer, err)
	}
	return val, nil
}

// SetCursor records the last stream ID processed by the named consumer.
func (cs *CursorStore) SetCursor(ctx context.Context, consumer, id string) error {
	if err := cs.rdb.Set(ctx, cursorKey(consumer), id, 0).Err(); err != nil {
		return fmt.Errorf("redis: set cursor %s: %w", consumer, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CursorStore = (*CursorStore)(nil)
