// Package engine implements the second-price auction settlement engine: the
// auction registry and state machine, the escrow ledger, the bidding rules,
// the anti-sniping extender, the settlement calculator, and the append-only
// event log.
//
// The engine is a deterministic state transition function. Every operation is
// evaluated against a caller-supplied clock value and executes atomically; a
// rejected operation leaves state byte-for-byte unchanged. The engine never
// reads a clock, performs I/O, or spawns goroutines.
package engine

import (
	"sort"
	"sync"

	"github.com/leaselock/auctiond/internal/domain"
)

// MaxExtensions caps how many times a single auction's end time can be pushed
// out by anti-sniping extensions, bounding the worst-case duration to
// end_time + MaxExtensions*extend_secs.
const MaxExtensions = 10

type escrowKey struct {
	auctionID uint64
	bidder    string
}

// EscrowEntry is one bidder's cumulative committed amount for one auction.
type EscrowEntry struct {
	AuctionID uint64 `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
}

// Engine owns the auction records, the escrow ledger, and the event log. All
// exported methods are safe for concurrent use; mutating operations are
// serialized so that no operation observes another's intermediate state.
type Engine struct {
	mu       sync.RWMutex
	nextID   uint64
	auctions map[uint64]*domain.Auction
	escrow   map[escrowKey]int64
	log      []domain.Event
	seq      uint64
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		auctions: make(map[uint64]*domain.Auction),
		escrow:   make(map[escrowKey]int64),
	}
}

// Create validates the parameters, allocates a new auction id, and registers
// the auction. The seller is installed as the sentinel leading bidder until a
// bid is accepted.
func (e *Engine) Create(p domain.CreateParams) (domain.Auction, []domain.Event, error) {
	if err := p.Validate(); err != nil {
		return domain.Auction{}, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	a := &domain.Auction{
		ID:            e.nextID,
		ResourceRef:   p.ResourceRef,
		Seller:        p.Seller,
		PaymentAsset:  p.PaymentAsset,
		Reserve:       p.Reserve,
		MinIncrement:  p.MinIncrement,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		ExtendSecs:    p.ExtendSecs,
		ExtendWindow:  p.ExtendWindow,
		MaxExtensions: MaxExtensions,
		LeadingBidder: p.Seller,
	}
	e.auctions[a.ID] = a

	events := e.emit(domain.Event{
		Kind:        domain.EventCreated,
		AuctionID:   a.ID,
		ResourceRef: a.ResourceRef,
		Seller:      a.Seller,
		Reserve:     a.Reserve,
	})
	return *a, events, nil
}

// Get returns a copy of the auction record.
func (e *Engine) Get(auctionID uint64) (domain.Auction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return *a, nil
}

// List returns all auction records sorted by id.
func (e *Engine) List() []domain.Auction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Auction, 0, len(e.auctions))
	for _, a := range e.auctions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status derives the auction status at the given clock value.
func (e *Engine) Status(auctionID uint64, now int64) (domain.AuctionStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return a.Status(now), nil
}

// Escrow returns the bidder's cumulative escrowed amount for the auction.
// A bidder with no escrow entry has a zero total.
func (e *Engine) Escrow(auctionID uint64, bidder string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.auctions[auctionID]; !ok {
		return 0, domain.ErrNotFound
	}
	return e.escrow[escrowKey{auctionID, bidder}], nil
}

// EscrowEntries returns all non-zero escrow entries for the auction, sorted
// by bidder.
func (e *Engine) EscrowEntries(auctionID uint64) []EscrowEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.escrowEntriesLocked(auctionID)
}

func (e *Engine) escrowEntriesLocked(auctionID uint64) []EscrowEntry {
	var entries []EscrowEntry
	for k, amount := range e.escrow {
		if k.auctionID == auctionID && amount > 0 {
			entries = append(entries, EscrowEntry{AuctionID: auctionID, Bidder: k.bidder, Amount: amount})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Bidder < entries[j].Bidder })
	return entries
}

// Restore hydrates the engine from persisted state: auction records, escrow
// entries, and the last journaled event sequence. It replaces any existing
// state and is intended for startup recovery before the engine serves
// operations.
func (e *Engine) Restore(auctions []domain.Auction, escrow []EscrowEntry, lastSeq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.auctions = make(map[uint64]*domain.Auction, len(auctions))
	e.escrow = make(map[escrowKey]int64, len(escrow))
	e.nextID = 0
	e.seq = lastSeq
	e.log = nil

	for i := range auctions {
		a := auctions[i]
		e.auctions[a.ID] = &a
		if a.ID > e.nextID {
			e.nextID = a.ID
		}
	}
	for _, entry := range escrow {
		if entry.Amount > 0 {
			e.escrow[escrowKey{entry.AuctionID, entry.Bidder}] = entry.Amount
		}
	}
}
