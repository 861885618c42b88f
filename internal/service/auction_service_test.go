package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaselock/auctiond/internal/domain"
	"github.com/leaselock/auctiond/internal/engine"
)

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

// commitRecord captures one atomic state commit: the journaled events and
// the snapshot they arrived with.
type commitRecord struct {
	events  []domain.Event
	auction domain.Auction
	entries []engine.EscrowEntry
}

// fakeStore plays both the read-only journal and the transactional state
// store: a commit lands events and snapshot together or not at all.
type fakeStore struct {
	events    []domain.Event
	auctions  map[uint64]domain.Auction
	escrow    map[uint64][]engine.EscrowEntry
	commits   []commitRecord
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions: make(map[uint64]domain.Auction),
		escrow:   make(map[uint64][]engine.EscrowEntry),
	}
}

func (s *fakeStore) Commit(_ context.Context, events []domain.Event, a domain.Auction, entries []engine.EscrowEntry) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.events = append(s.events, events...)
	s.auctions[a.ID] = a
	if a.Settled != "" {
		delete(s.escrow, a.ID)
	} else {
		s.escrow[a.ID] = entries
	}
	s.commits = append(s.commits, commitRecord{events: events, auction: a, entries: entries})
	return nil
}

func (s *fakeStore) LoadAll(_ context.Context) ([]domain.Auction, []engine.EscrowEntry, error) {
	var auctions []domain.Auction
	var entries []engine.EscrowEntry
	for _, a := range s.auctions {
		auctions = append(auctions, a)
	}
	for _, e := range s.escrow {
		entries = append(entries, e...)
	}
	return auctions, entries, nil
}

func (s *fakeStore) ListAfter(_ context.Context, cursor uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Seq > cursor {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ListByAuction(_ context.Context, auctionID uint64) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range s.events {
		if ev.AuctionID == auctionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) LastSeq(_ context.Context) (uint64, error) {
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].Seq, nil
}

type fakeBus struct {
	streamed  [][]byte
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeLocks struct {
	acquired int
	released int
	held     bool
}

func (l *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type fakeArchiver struct {
	archived []uint64
}

func (a *fakeArchiver) ArchiveAuction(_ context.Context, auctionID uint64) (int, error) {
	a.archived = append(a.archived, auctionID)
	return 1, nil
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	svc      *AuctionService
	store    *fakeStore
	bus      *fakeBus
	locks    *fakeLocks
	notifier *fakeNotifier
	archiver *fakeArchiver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		bus:      &fakeBus{},
		locks:    &fakeLocks{},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewAuctionService(
		engine.New(), h.store, h.store, h.bus,
		h.locks, h.archiver, h.notifier,
		FixedClock{Unix: 1500}, logger,
	)
	return h
}

func testParams() domain.CreateParams {
	return domain.CreateParams{
		ResourceRef:  "lease-node-7",
		Seller:       "seller",
		PaymentAsset: "USDC",
		Reserve:      100,
		MinIncrement: 10,
		StartTime:    1000,
		EndTime:      2000,
		ExtendSecs:   60,
		ExtendWindow: 30,
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestCreateAuctionPersistsEventAndSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)
	require.Equal(t, uint64(1), a.ID)

	require.Len(t, h.store.events, 1)
	assert.Equal(t, domain.EventCreated, h.store.events[0].Kind)

	snap, ok := h.store.auctions[a.ID]
	require.True(t, ok)
	assert.Equal(t, "lease-node-7", snap.ResourceRef)

	// Every journaled event is also streamed and published.
	assert.Len(t, h.bus.streamed, 1)
	assert.Len(t, h.bus.published, 1)
}

func TestPlaceBidLocksAndJournals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)

	got, err := h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.LeadingTotal)
	assert.Equal(t, "alice", got.LeadingBidder)

	assert.Equal(t, 1, h.locks.acquired)
	assert.Equal(t, 1, h.locks.released)

	require.Len(t, h.store.events, 2)
	assert.Equal(t, domain.EventBidAccepted, h.store.events[1].Kind)

	entries := h.store.escrow[a.ID]
	require.Len(t, entries, 1)
	assert.Equal(t, int64(150), entries[0].Amount)
}

func TestPlaceBidLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)

	h.locks.held = true
	_, err = h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	// The engine never saw the bid.
	assert.Len(t, h.store.events, 1)
}

func TestFinalizeNotifiesAndArchives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(ctx, a.ID, "bob", 200, 1600)
	require.NoError(t, err)

	res, err := h.svc.FinalizeAuction(ctx, a.ID, 2001)
	require.NoError(t, err)
	assert.True(t, res.ReserveMet)
	assert.Equal(t, "bob", res.Winner)
	assert.Equal(t, int64(150), res.ClearingPrice)

	assert.Equal(t, []string{"auction_settled"}, h.notifier.events)
	assert.Equal(t, []uint64{a.ID}, h.archiver.archived)

	// Terminal snapshot drops the escrow rows.
	_, ok := h.store.escrow[a.ID]
	assert.False(t, ok)
	assert.Equal(t, domain.StatusSettledSuccess, h.store.auctions[a.ID].Settled)
}

func TestFinalizeReserveNotMetNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)

	_, err = h.svc.FinalizeAuction(ctx, a.ID, 2001)
	require.NoError(t, err)

	assert.Equal(t, []string{"reserve_not_met"}, h.notifier.events)
}

func TestCancelNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)

	require.NoError(t, h.svc.CancelAuction(ctx, a.ID, 900))
	assert.Equal(t, []string{"auction_cancelled"}, h.notifier.events)
	assert.Equal(t, []uint64{a.ID}, h.archiver.archived)
}

func TestCommitFailureAbortsOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.commitErr = errors.New("connection refused")
	_, err := h.svc.CreateAuction(ctx, testParams())
	require.Error(t, err)
	assert.Empty(t, h.store.auctions)
	assert.Empty(t, h.store.events)

	// Nothing reaches the bus when the commit fails.
	assert.Empty(t, h.bus.streamed)
	assert.Empty(t, h.bus.published)
}

func TestMutationCommitsEventsAndSnapshotTogether(t *testing.T) {
	// Each mutation lands its journal events and the snapshot they produce
	// in a single commit, so a crash between operations can never leave a
	// journaled bid whose escrow is missing from the recovered state.
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	require.Len(t, h.store.commits, 2)

	bid := h.store.commits[1]
	require.Len(t, bid.events, 1)
	assert.Equal(t, domain.EventBidAccepted, bid.events[0].Kind)
	assert.Equal(t, int64(150), bid.events[0].NewTotal)

	// The snapshot in the same commit already reflects the journaled bid.
	assert.Equal(t, int64(150), bid.auction.LeadingTotal)
	assert.Equal(t, "alice", bid.auction.LeadingBidder)
	require.Len(t, bid.entries, 1)
	assert.Equal(t, int64(150), bid.entries[0].Amount)
}

func TestRestoreResumesFromSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	// Boot a second service instance from the same stores.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restored := NewAuctionService(
		engine.New(), h.store, h.store, h.bus,
		nil, nil, nil,
		FixedClock{Unix: 1600}, logger,
	)
	require.NoError(t, restored.Restore(ctx))

	got, err := restored.GetAuction(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.LeadingTotal)
	assert.Equal(t, "alice", got.LeadingBidder)

	amt, err := restored.Escrow(a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150), amt)

	// New events continue the journal sequence.
	_, err = restored.PlaceBid(ctx, a.ID, "bob", 200, 1600)
	require.NoError(t, err)
	last := h.store.events[len(h.store.events)-1]
	assert.Equal(t, domain.EventBidAccepted, last.Kind)
	for i := 1; i < len(h.store.events); i++ {
		assert.Greater(t, h.store.events[i].Seq, h.store.events[i-1].Seq,
			fmt.Sprintf("event %d out of order", i))
	}
}

func TestEventsSinceReadsJournal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateAuction(ctx, testParams())
	require.NoError(t, err)
	_, err = h.svc.PlaceBid(ctx, a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	all, err := h.svc.EventsSince(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 2)

	tail, err := h.svc.EventsSince(ctx, all[0].Seq, 100)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, domain.EventBidAccepted, tail[0].Kind)
}
