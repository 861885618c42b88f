package domain

import (
	"context"
	"io"
	"time"
)

// EventJournal reads the engine's persisted append-only event log. Writes go
// through the state store's Commit so journal rows and the state snapshot
// land in one transaction. ListAfter is the cursor read used by indexers;
// cursor 0 reads from the beginning.
type EventJournal interface {
	ListAfter(ctx context.Context, cursor uint64, limit int) ([]Event, error)
	ListByAuction(ctx context.Context, auctionID uint64) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// StreamMessage is a single entry read from a durable event stream. ID is the
// stream's own monotonic cursor (distinct from Event.Seq).
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus abstracts the event transport: ephemeral pub/sub fan-out plus a
// durable, ordered stream that consumers resume from via a cursor.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// CursorStore persists a consumer's position in a stream so it can resume
// after a restart.
type CursorStore interface {
	GetCursor(ctx context.Context, consumer string) (string, error)
	SetCursor(ctx context.Context, consumer string, cursor string) error
}

// LockManager provides distributed mutual exclusion, used to serialize
// per-auction mutations across service instances.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ResourceLocker is the boundary to the physical access-control system. A
// resource transitions from locked to unlocked when its auction finalizes.
// Implementations must be idempotent: unlocking an already-unlocked resource
// is a no-op.
type ResourceLocker interface {
	Unlock(ctx context.Context, resourceRef string, holder string) error
	Lock(ctx context.Context, resourceRef string) error
}

// Clock supplies the authoritative operation time in unix seconds. The engine
// never reads a clock itself; the service layer injects one so tests can
// drive time explicitly.
type Clock interface {
	Now() int64
}
