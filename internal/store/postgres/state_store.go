package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leaselock/auctiond/internal/domain"
	"github.com/leaselock/auctiond/internal/engine"
)

// StateStore persists the outcome of one engine operation: the emitted
// journal events together with the resulting auction and escrow snapshot, in
// a single transaction. Committing both sides atomically means the journal
// and the recoverable state can never disagree after a crash. LoadAll reads
// it all back on startup so the engine resumes where it left off.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Commit journals the events and upserts the auction snapshot in one
// transaction. Re-committing an already-journaled sequence number is a no-op
// on the journal side and idempotent on the snapshot side.
func (s *StateStore) Commit(ctx context.Context, events []domain.Event, a domain.Auction, entries []engine.EscrowEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin state tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := appendEventsTx(ctx, tx, events); err != nil {
		return err
	}
	if err := saveAuctionTx(ctx, tx, a, entries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit state tx: %w", err)
	}
	return nil
}

// saveAuctionTx upserts one auction record together with the bidder escrow
// entries touched by the operation, inside the caller's transaction. Settled
// auctions' escrow rows are deleted, matching the engine's settlement-time
// zeroing.
func saveAuctionTx(ctx context.Context, tx pgx.Tx, a domain.Auction, entries []engine.EscrowEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO auctions (
			id, resource_ref, seller, payment_asset, reserve, min_increment,
			start_time, end_time, extend_secs, extend_window,
			max_extensions, extensions_used,
			leading_total, leading_bidder, second_total, settled, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
		ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			extensions_used = EXCLUDED.extensions_used,
			leading_total = EXCLUDED.leading_total,
			leading_bidder = EXCLUDED.leading_bidder,
			second_total = EXCLUDED.second_total,
			settled = EXCLUDED.settled,
			updated_at = NOW()`,
		int64(a.ID), a.ResourceRef, a.Seller, a.PaymentAsset, a.Reserve, a.MinIncrement,
		a.StartTime, a.EndTime, a.ExtendSecs, a.ExtendWindow,
		a.MaxExtensions, a.ExtensionsUsed,
		a.LeadingTotal, a.LeadingBidder, a.SecondTotal, string(a.Settled),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert auction %d: %w", a.ID, err)
	}

	// Settled auctions have cleared escrow; drop every entry.
	if a.Settled != "" {
		if _, err := tx.Exec(ctx,
			`DELETE FROM escrow_entries WHERE auction_id = $1`, int64(a.ID),
		); err != nil {
			return fmt.Errorf("postgres: clear escrow for auction %d: %w", a.ID, err)
		}
		return nil
	}

	for _, entry := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_entries (auction_id, bidder, amount, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (auction_id, bidder) DO UPDATE SET
				amount = EXCLUDED.amount, updated_at = NOW()`,
			int64(entry.AuctionID), entry.Bidder, entry.Amount,
		); err != nil {
			return fmt.Errorf("postgres: upsert escrow %d/%s: %w", entry.AuctionID, entry.Bidder, err)
		}
	}
	return nil
}

// LoadAll returns every auction record and every escrow entry. It is called
// once at startup to rehydrate the engine.
func (s *StateStore) LoadAll(ctx context.Context) ([]domain.Auction, []engine.EscrowEntry, error) {
	auctions, err := s.loadAuctions(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT auction_id, bidder, amount FROM escrow_entries WHERE amount > 0`,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load escrow entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.EscrowEntry
	for rows.Next() {
		var e engine.EscrowEntry
		var auctionID int64
		if err := rows.Scan(&auctionID, &e.Bidder, &e.Amount); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan escrow entry: %w", err)
		}
		e.AuctionID = uint64(auctionID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres: escrow rows: %w", err)
	}

	return auctions, entries, nil
}

func (s *StateStore) loadAuctions(ctx context.Context) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_ref, seller, payment_asset, reserve, min_increment,
		        start_time, end_time, extend_secs, extend_window,
		        max_extensions, extensions_used,
		        leading_total, leading_bidder, second_total, settled
		 FROM auctions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: auction rows: %w", err)
	}
	return auctions, nil
}

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var id int64
	var settled string
	if err := row.Scan(
		&id, &a.ResourceRef, &a.Seller, &a.PaymentAsset, &a.Reserve, &a.MinIncrement,
		&a.StartTime, &a.EndTime, &a.ExtendSecs, &a.ExtendWindow,
		&a.MaxExtensions, &a.ExtensionsUsed,
		&a.LeadingTotal, &a.LeadingBidder, &a.SecondTotal, &settled,
	); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: scan auction: %w", err)
	}
	a.ID = uint64(id)
	a.Settled = domain.AuctionStatus(settled)
	return a, nil
}
