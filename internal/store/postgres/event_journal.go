package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leaselock/auctiond/internal/domain"
)

// EventJournal implements domain.EventJournal using PostgreSQL. Each event is
// stored with its engine sequence number as the primary key, which makes
// journal writes idempotent under replay (ON CONFLICT DO NOTHING). Writes
// happen inside StateStore.Commit via appendEventsTx.
type EventJournal struct {
	pool *pgxpool.Pool
}

// NewEventJournal creates an EventJournal backed by the given connection pool.
func NewEventJournal(pool *pgxpool.Pool) *EventJournal {
	return &EventJournal{pool: pool}
}

// appendEventsTx writes the events of one operation to the journal inside the
// caller's transaction. Re-appending an already-journaled sequence number is
// a no-op.
func appendEventsTx(ctx context.Context, tx pgx.Tx, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %d: %w", ev.Seq, err)
		}
		batch.Queue(
			`INSERT INTO auction_events (seq, auction_id, kind, payload)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (seq) DO NOTHING`,
			int64(ev.Seq), int64(ev.AuctionID), string(ev.Kind), payload,
		)
	}

	// The batch must be closed before the transaction issues further
	// statements.
	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("postgres: append events: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("postgres: append events: %w", err)
	}
	return nil
}

// ListAfter returns up to limit events with seq > cursor, in sequence order.
func (j *EventJournal) ListAfter(ctx context.Context, cursor uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.pool.Query(ctx,
		`SELECT payload FROM auction_events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		int64(cursor), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events after %d: %w", cursor, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByAuction returns the full event history of one auction in order.
func (j *EventJournal) ListByAuction(ctx context.Context, auctionID uint64) ([]domain.Event, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT payload FROM auction_events WHERE auction_id = $1 ORDER BY seq ASC`,
		int64(auctionID),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for auction %d: %w", auctionID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSeq returns the highest journaled sequence number, or zero when the
// journal is empty.
func (j *EventJournal) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := j.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM auction_events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: last seq: %w", err)
	}
	return uint64(seq), nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: event rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventJournal = (*EventJournal)(nil)
