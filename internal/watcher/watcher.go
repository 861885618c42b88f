// Package watcher consumes the durable auction event stream and drives the
// physical resource handoff: when an auction finalizes with a winner, the
// watcher releases the resource lock to them. It resumes from a persisted
// cursor so restarts never skip or replay a handoff.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaselock/auctiond/internal/domain"
)

// Config holds the watcher runtime parameters.
type Config struct {
	// Stream is the Redis stream carrying auction events.
	Stream string

	// ConsumerName keys the persisted cursor, so multiple watchers can run
	// with independent positions.
	ConsumerName string

	// PollInterval is how often the stream is read when idle.
	PollInterval time.Duration

	// BatchSize bounds how many messages one poll processes.
	BatchSize int
}

// Watcher tails the event stream and unlocks resources for auction winners.
type Watcher struct {
	cfg     Config
	bus     domain.SignalBus
	cursors domain.CursorStore
	locker  domain.ResourceLocker
	logger  *slog.Logger

	// handled dedupes events within a process lifetime; the persisted cursor
	// covers restarts, and the locker itself is idempotent.
	handled map[uint64]struct{}
}

// New creates a Watcher.
func New(cfg Config, bus domain.SignalBus, cursors domain.CursorStore, locker domain.ResourceLocker, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:     cfg,
		bus:     bus,
		cursors: cursors,
		locker:  locker,
		logger:  logger.With(slog.String("component", "watcher")),
		handled: make(map[uint64]struct{}),
	}
}

// Run polls the stream until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	cursor, err := w.cursors.GetCursor(ctx, w.cfg.ConsumerName)
	if err != nil {
		return fmt.Errorf("watcher: load cursor: %w", err)
	}

	w.logger.InfoContext(ctx, "watcher started",
		slog.String("stream", w.cfg.Stream),
		slog.String("consumer", w.cfg.ConsumerName),
		slog.String("cursor", cursor),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cursor, err = w.poll(ctx, cursor)
			if err != nil {
				w.logger.ErrorContext(ctx, "poll failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// poll reads one batch from the stream and processes it. It returns the new
// cursor; on a processing failure the cursor stops just before the failed
// message so the next poll retries it.
func (w *Watcher) poll(ctx context.Context, cursor string) (string, error) {
	msgs, err := w.bus.StreamRead(ctx, w.cfg.Stream, cursor, w.cfg.BatchSize)
	if err != nil {
		return cursor, fmt.Errorf("stream read: %w", err)
	}

	for _, msg := range msgs {
		if err := w.process(ctx, msg.Payload); err != nil {
			// Persist progress up to the failure and retry from here.
			if saveErr := w.cursors.SetCursor(ctx, w.cfg.ConsumerName, cursor); saveErr != nil {
				w.logger.ErrorContext(ctx, "cursor save failed",
					slog.String("error", saveErr.Error()),
				)
			}
			return cursor, err
		}
		cursor = msg.ID
	}

	if len(msgs) > 0 {
		if err := w.cursors.SetCursor(ctx, w.cfg.ConsumerName, cursor); err != nil {
			return cursor, fmt.Errorf("cursor save: %w", err)
		}
	}
	return cursor, nil
}

// process handles a single stream payload. Only finalized events trigger a
// handoff; everything else is skipped after decoding.
func (w *Watcher) process(ctx context.Context, payload []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		// A malformed payload will never become valid; skip it.
		w.logger.WarnContext(ctx, "skipping malformed event",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if ev.Kind != domain.EventFinalized {
		return nil
	}
	if _, ok := w.handled[ev.Seq]; ok {
		return nil
	}

	if err := w.locker.Unlock(ctx, ev.ResourceRef, ev.Winner); err != nil {
		return fmt.Errorf("unlock %s for %s: %w", ev.ResourceRef, ev.Winner, err)
	}
	w.handled[ev.Seq] = struct{}{}

	w.logger.InfoContext(ctx, "resource unlocked",
		slog.Uint64("auction_id", ev.AuctionID),
		slog.String("resource_ref", ev.ResourceRef),
		slog.String("winner", ev.Winner),
	)
	return nil
}
