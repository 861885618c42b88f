// Package service orchestrates the deterministic auction engine against the
// outside world: it injects the clock, serializes mutations across instances,
// commits each operation's events and state snapshot in one transaction, and
// publishes the events for downstream consumers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaselock/auctiond/internal/domain"
	"github.com/leaselock/auctiond/internal/engine"
)

const (
	// EventStream is the durable Redis stream carrying every engine event.
	EventStream = "stream:auction:events"

	// EventChannel is the pub/sub channel used for ephemeral fan-out to
	// websocket subscribers.
	EventChannel = "ch:auction"

	// lockTTL bounds how long a per-auction mutation lock can be held before
	// Redis expires it.
	lockTTL = 10 * time.Second
)

// StateStore durably records one operation's outcome — its journal events
// and the resulting auction snapshot — in a single atomic commit, and loads
// the snapshots back for startup recovery. The atomicity is what keeps the
// journal and the recovered engine state in agreement across a crash.
type StateStore interface {
	Commit(ctx context.Context, events []domain.Event, a domain.Auction, entries []engine.EscrowEntry) error
	LoadAll(ctx context.Context) ([]domain.Auction, []engine.EscrowEntry, error)
}

// Archiver copies a settled auction's event history to cold storage.
type Archiver interface {
	ArchiveAuction(ctx context.Context, auctionID uint64) (int, error)
}

// Notifier delivers operator alerts for terminal auction outcomes.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AuctionService exposes the engine's operations with persistence, event
// publication, and distributed locking layered around them. The locks,
// archiver, and notifier dependencies are optional; nil disables them.
type AuctionService struct {
	engine   *engine.Engine
	journal  domain.EventJournal
	store    StateStore
	bus      domain.SignalBus
	locks    domain.LockManager
	archiver Archiver
	notifier Notifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewAuctionService creates an AuctionService with all required dependencies.
func NewAuctionService(
	eng *engine.Engine,
	journal domain.EventJournal,
	store StateStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	archiver Archiver,
	notifier Notifier,
	clock domain.Clock,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		engine:   eng,
		journal:  journal,
		store:    store,
		bus:      bus,
		locks:    locks,
		archiver: archiver,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "auction_service")),
	}
}

// Now returns the clock's current unix time. Handlers use it to resolve the
// operation time before calling a mutating method.
func (s *AuctionService) Now() int64 {
	return s.clock.Now()
}

// Restore rebuilds the engine from the state store and the journal's last
// sequence number. Because every operation commits its journal events and its
// snapshot in one transaction, the loaded snapshots always reflect exactly
// the journaled history up to LastSeq. Called once at startup, before the
// service accepts operations.
func (s *AuctionService) Restore(ctx context.Context) error {
	auctions, escrow, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("auction_service: load snapshots: %w", err)
	}

	lastSeq, err := s.journal.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("auction_service: journal last seq: %w", err)
	}

	s.engine.Restore(auctions, escrow, lastSeq)

	s.logger.InfoContext(ctx, "engine restored",
		slog.Int("auctions", len(auctions)),
		slog.Int("escrow_entries", len(escrow)),
		slog.Uint64("last_seq", lastSeq),
	)
	return nil
}

// CreateAuction registers a new auction and journals its created event.
func (s *AuctionService) CreateAuction(ctx context.Context, p domain.CreateParams) (domain.Auction, error) {
	a, events, err := s.engine.Create(p)
	if err != nil {
		return domain.Auction{}, err
	}

	if err := s.persist(ctx, a.ID, events); err != nil {
		return domain.Auction{}, err
	}

	s.logger.InfoContext(ctx, "auction created",
		slog.Uint64("auction_id", a.ID),
		slog.String("resource_ref", a.ResourceRef),
		slog.String("seller", a.Seller),
	)
	return a, nil
}

// PlaceBid applies an additive escrow bid at the given operation time.
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID uint64, bidder string, amount, now int64) (domain.Auction, error) {
	var (
		a      domain.Auction
		events []domain.Event
	)

	err := s.withLock(ctx, auctionID, func() error {
		var err error
		a, events, err = s.engine.Bid(auctionID, bidder, amount, now)
		if err != nil {
			return err
		}
		return s.persist(ctx, auctionID, events)
	})
	if err != nil {
		return domain.Auction{}, err
	}

	s.logger.InfoContext(ctx, "bid accepted",
		slog.Uint64("auction_id", auctionID),
		slog.String("bidder", bidder),
		slog.Int64("amount", amount),
		slog.Int64("leading_total", a.LeadingTotal),
	)
	return a, nil
}

// FinalizeAuction settles an ended auction at the given operation time and
// returns the settlement outcome.
func (s *AuctionService) FinalizeAuction(ctx context.Context, auctionID uint64, now int64) (domain.Settlement, error) {
	var (
		res    domain.Settlement
		events []domain.Event
	)

	err := s.withLock(ctx, auctionID, func() error {
		var err error
		res, events, err = s.engine.Finalize(auctionID, now)
		if err != nil {
			return err
		}
		return s.persist(ctx, auctionID, events)
	})
	if err != nil {
		return domain.Settlement{}, err
	}

	s.logger.InfoContext(ctx, "auction finalized",
		slog.Uint64("auction_id", auctionID),
		slog.Bool("reserve_met", res.ReserveMet),
		slog.String("winner", res.Winner),
		slog.Int64("clearing_price", res.ClearingPrice),
	)

	if res.ReserveMet {
		s.alert(ctx, "auction_settled", "Auction settled",
			fmt.Sprintf("auction %d: winner %s pays %d (refund %d)",
				auctionID, res.Winner, res.ClearingPrice, res.WinnerRefund))
	} else {
		s.alert(ctx, "reserve_not_met", "Reserve not met",
			fmt.Sprintf("auction %d failed to meet reserve; all bidders refunded", auctionID))
	}
	s.archive(ctx, auctionID)

	return res, nil
}

// CancelAuction cancels an auction at the given operation time, refunding any
// pre-start escrow.
func (s *AuctionService) CancelAuction(ctx context.Context, auctionID uint64, now int64) error {
	err := s.withLock(ctx, auctionID, func() error {
		events, err := s.engine.Cancel(auctionID, now)
		if err != nil {
			return err
		}
		return s.persist(ctx, auctionID, events)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "auction cancelled",
		slog.Uint64("auction_id", auctionID),
	)
	s.alert(ctx, "auction_cancelled", "Auction cancelled",
		fmt.Sprintf("auction %d cancelled by seller", auctionID))
	s.archive(ctx, auctionID)

	return nil
}

// GetAuction returns the full record of one auction.
func (s *AuctionService) GetAuction(auctionID uint64) (domain.Auction, error) {
	return s.engine.Get(auctionID)
}

// ListAuctions returns all auctions ordered by id.
func (s *AuctionService) ListAuctions() []domain.Auction {
	return s.engine.List()
}

// AuctionStatus derives the lifecycle status of an auction at the given time.
func (s *AuctionService) AuctionStatus(auctionID uint64, now int64) (domain.AuctionStatus, error) {
	return s.engine.Status(auctionID, now)
}

// Escrow returns one bidder's cumulative committed amount.
func (s *AuctionService) Escrow(auctionID uint64, bidder string) (int64, error) {
	return s.engine.Escrow(auctionID, bidder)
}

// EscrowEntries returns all non-zero escrow entries for an auction.
func (s *AuctionService) EscrowEntries(auctionID uint64) []engine.EscrowEntry {
	return s.engine.EscrowEntries(auctionID)
}

// EventsSince returns journal events with Seq greater than cursor.
func (s *AuctionService) EventsSince(ctx context.Context, cursor uint64, limit int) ([]domain.Event, error) {
	return s.journal.ListAfter(ctx, cursor, limit)
}

// EventsByAuction returns the full event history of one auction.
func (s *AuctionService) EventsByAuction(ctx context.Context, auctionID uint64) ([]domain.Event, error) {
	return s.journal.ListByAuction(ctx, auctionID)
}

// withLock serializes a mutation on one auction across service instances.
// When no lock manager is configured, the engine's own mutex is the only
// serialization, which is sufficient for a single instance.
func (s *AuctionService) withLock(ctx context.Context, auctionID uint64, fn func() error) error {
	if s.locks == nil {
		return fn()
	}

	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("auction:%d", auctionID), lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	return fn()
}

// persist commits the events together with the refreshed auction snapshot in
// one transaction, then publishes the events on the bus. A commit failure is
// fatal to the operation; bus failures are logged and tolerated because
// consumers can recover from the journal.
func (s *AuctionService) persist(ctx context.Context, auctionID uint64, events []domain.Event) error {
	a, err := s.engine.Get(auctionID)
	if err != nil {
		return fmt.Errorf("auction_service: snapshot read: %w", err)
	}
	if err := s.store.Commit(ctx, events, a, s.engine.EscrowEntries(auctionID)); err != nil {
		return fmt.Errorf("auction_service: state commit: %w", err)
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.ErrorContext(ctx, "event marshal failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			s.logger.WarnContext(ctx, "stream append failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "publish failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// alert sends an operator notification, tolerating delivery failures.
func (s *AuctionService) alert(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archive copies the auction's event history to cold storage, tolerating
// upload failures.
func (s *AuctionService) archive(ctx context.Context, auctionID uint64) {
	if s.archiver == nil {
		return
	}
	n, err := s.archiver.ArchiveAuction(ctx, auctionID)
	if err != nil {
		s.logger.WarnContext(ctx, "archive failed",
			slog.Uint64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "auction archived",
		slog.Uint64("auction_id", auctionID),
		slog.Int("events", n),
	)
}
