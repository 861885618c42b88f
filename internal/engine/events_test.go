package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaselock/auctiond/internal/domain"
)

func TestEventsSince_CursorSemantics(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())
	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)
	_, _, err = e.Bid(a.ID, "bob", 200, 1500)
	require.NoError(t, err)

	all := e.EventsSince(0, 0)
	require.Len(t, all, 3) // created + 2 bid_accepted

	// Sequence numbers are strictly increasing.
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}

	// Resuming from a cursor skips everything at or before it.
	tail := e.EventsSince(all[0].Seq, 0)
	require.Len(t, tail, 2)
	assert.Equal(t, all[1], tail[0])

	// A cursor at the head yields nothing.
	assert.Empty(t, e.EventsSince(e.LastSeq(), 0))

	// Limit caps the page size.
	page := e.EventsSince(0, 2)
	assert.Len(t, page, 2)
}

func TestEventsSince_InterleavedAuctionsShareOneOrderedLog(t *testing.T) {
	e := New()
	a1 := mustCreate(t, e, validParams())
	a2 := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a1.ID, "alice", 150, 1500)
	require.NoError(t, err)
	_, _, err = e.Bid(a2.ID, "bob", 150, 1500)
	require.NoError(t, err)

	all := e.EventsSince(0, 0)
	require.Len(t, all, 4)
	assert.Equal(t, []uint64{a1.ID, a2.ID, a1.ID, a2.ID},
		[]uint64{all[0].AuctionID, all[1].AuctionID, all[2].AuctionID, all[3].AuctionID})
}

func TestRestore_ResumesSequenceAndState(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())
	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	snapshot, err := e.Get(a.ID)
	require.NoError(t, err)
	entries := e.EscrowEntries(a.ID)
	lastSeq := e.LastSeq()

	restored := New()
	restored.Restore([]domain.Auction{snapshot}, entries, lastSeq)

	got, err := restored.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot, got)

	escrow, err := restored.Escrow(a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150), escrow)

	// New ids and sequence numbers continue past the restored history.
	a2, events, err := restored.Create(validParams())
	require.NoError(t, err)
	assert.Equal(t, a.ID+1, a2.ID)
	require.Len(t, events, 1)
	assert.Equal(t, lastSeq+1, events[0].Seq)

	// The cursor read over a restored engine only covers new events.
	assert.Equal(t, events, restored.EventsSince(0, 0))
}

func TestEscrowEntries_SortedAndNonZero(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "carol", 150, 1500)
	require.NoError(t, err)
	_, _, err = e.Bid(a.ID, "alice", 160, 1500)
	require.NoError(t, err)
	_, _, err = e.Bid(a.ID, "bob", 170, 1500)
	require.NoError(t, err)

	entries := e.EscrowEntries(a.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, "alice", entries[0].Bidder)
	assert.Equal(t, "bob", entries[1].Bidder)
	assert.Equal(t, "carol", entries[2].Bidder)
}
