package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaselock/auctiond/internal/domain"
)

func TestFinalize_SecondPriceScenario(t *testing.T) {
	// reserve=100, min_increment=10. A 150, B 200, A +60 (210), B +50 (250).
	// Clearing = max(210, 100) = 210; winner B refunded 40; A refunded her
	// full 210 escrow; seller paid 210. Total escrowed 460 = 210+40+210.
	e := New()
	a := mustCreate(t, e, validParams())

	for _, b := range []struct {
		bidder string
		amount int64
	}{
		{"alice", 150}, {"bob", 200}, {"alice", 60}, {"bob", 50},
	} {
		_, _, err := e.Bid(a.ID, b.bidder, b.amount, 1500)
		require.NoError(t, err)
	}

	res, events, err := e.Finalize(a.ID, 2500)
	require.NoError(t, err)
	assert.True(t, res.ReserveMet)
	assert.Equal(t, "bob", res.Winner)
	assert.Equal(t, int64(210), res.ClearingPrice)
	assert.Equal(t, int64(40), res.WinnerRefund)

	require.Len(t, events, 4)
	assert.Equal(t, domain.EventPayout, events[0].Kind)
	assert.Equal(t, "seller", events[0].Recipient)
	assert.Equal(t, int64(210), events[0].Amount)

	assert.Equal(t, domain.EventRefund, events[1].Kind)
	assert.Equal(t, "bob", events[1].Recipient)
	assert.Equal(t, int64(40), events[1].Amount)

	assert.Equal(t, domain.EventRefund, events[2].Kind)
	assert.Equal(t, "alice", events[2].Recipient)
	assert.Equal(t, int64(210), events[2].Amount)

	assert.Equal(t, domain.EventFinalized, events[3].Kind)
	assert.Equal(t, "bob", events[3].Winner)
	assert.Equal(t, int64(210), events[3].ClearingPrice)
	assert.Equal(t, "lease-node-7", events[3].ResourceRef)

	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettledSuccess, got.Status(2500))
	assert.Empty(t, e.EscrowEntries(a.ID))
}

func TestFinalize_Conservation(t *testing.T) {
	// Payouts plus refunds must equal every unit ever escrowed, on both
	// settlement paths.
	scenarios := [][]struct {
		bidder string
		amount int64
	}{
		{{"alice", 150}},
		{{"alice", 150}, {"bob", 200}},
		{{"alice", 150}, {"bob", 200}, {"alice", 60}, {"bob", 50}},
		{{"alice", 100}, {"bob", 115}, {"carol", 130}, {"alice", 45}},
	}

	for _, bids := range scenarios {
		e := New()
		a := mustCreate(t, e, validParams())

		var escrowed int64
		for _, b := range bids {
			_, _, err := e.Bid(a.ID, b.bidder, b.amount, 1500)
			require.NoError(t, err)
			escrowed += b.amount
		}

		_, events, err := e.Finalize(a.ID, 2500)
		require.NoError(t, err)

		var moved int64
		for _, ev := range events {
			if ev.Kind == domain.EventPayout || ev.Kind == domain.EventRefund {
				moved += ev.Amount
			}
		}
		assert.Equal(t, escrowed, moved, "bids=%v", bids)
	}
}

func TestFinalize_SingleBid_ClearsAtReserve(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	res, events, err := e.Finalize(a.ID, 2500)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Winner)
	assert.Equal(t, int64(100), res.ClearingPrice) // second=0, clearing=reserve
	assert.Equal(t, int64(50), res.WinnerRefund)

	require.Len(t, events, 3)
	assert.Equal(t, domain.EventPayout, events[0].Kind)
	assert.Equal(t, domain.EventRefund, events[1].Kind)
	assert.Equal(t, domain.EventFinalized, events[2].Kind)
}

func TestFinalize_ExactClearing_NoWinnerRefund(t *testing.T) {
	e := New()
	p := validParams()
	p.Reserve = 150
	a := mustCreate(t, e, p)

	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	res, events, err := e.Finalize(a.ID, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.ClearingPrice)
	assert.Equal(t, int64(0), res.WinnerRefund)

	// No zero-amount refund event is emitted.
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPayout, events[0].Kind)
	assert.Equal(t, domain.EventFinalized, events[1].Kind)
}

func TestFinalize_ReserveNotMet(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())
	// No bids at all: leading_total=0 < reserve.
	res, events, err := e.Finalize(a.ID, 2500)
	require.NoError(t, err)
	assert.False(t, res.ReserveMet)
	assert.Empty(t, res.Winner)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventFailed, events[0].Kind)
	assert.Equal(t, int64(100), events[0].Reserve)

	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettledFailed, got.Status(2500))
}

func TestFinalize_NotEnded(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Finalize(a.ID, 1999)
	assert.ErrorIs(t, err, domain.ErrNotEnded)

	_, _, err = e.Finalize(999, 2500)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_NoBids_AnyTime(t *testing.T) {
	for _, now := range []int64{500, 1500, 2500} {
		e := New()
		a := mustCreate(t, e, validParams())

		events, err := e.Cancel(a.ID, now)
		require.NoError(t, err, "now=%d", now)

		// No refund events: escrow is empty.
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventCancelled, events[0].Kind)

		got, err := e.Get(a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status(now))
	}
}

func TestCancel_WithBidsAfterStart_Rejected(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	_, err = e.Cancel(a.ID, 1600)
	assert.ErrorIs(t, err, domain.ErrCannotCancelWithBids)

	// State unchanged: still active, escrow intact.
	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status(1600))
	escrow, _ := e.Escrow(a.ID, "alice")
	assert.Equal(t, int64(150), escrow)
}

func TestCancel_WithBidsBeforeStart_Refunds(t *testing.T) {
	// Bids can only land inside the window, so reach this path by bidding at
	// start and evaluating cancel with a clock before start. The rule is a
	// pure function of the supplied now.
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 150, 1000)
	require.NoError(t, err)

	events, err := e.Cancel(a.ID, 900)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRefund, events[0].Kind)
	assert.Equal(t, "alice", events[0].Recipient)
	assert.Equal(t, int64(150), events[0].Amount)
	assert.Equal(t, domain.EventCancelled, events[1].Kind)
	assert.Empty(t, e.EscrowEntries(a.ID))
}

func TestTerminalState_Idempotent(t *testing.T) {
	terminal := []func(e *Engine, id uint64) error{
		func(e *Engine, id uint64) error { // settle success
			_, _, err := e.Bid(id, "alice", 150, 1500)
			if err != nil {
				return err
			}
			_, _, err = e.Finalize(id, 2500)
			return err
		},
		func(e *Engine, id uint64) error { // settle failed
			_, _, err := e.Finalize(id, 2500)
			return err
		},
		func(e *Engine, id uint64) error { // cancelled
			_, err := e.Cancel(id, 500)
			return err
		},
	}

	for i, reach := range terminal {
		e := New()
		a := mustCreate(t, e, validParams())
		require.NoError(t, reach(e, a.ID), "case %d", i)

		before, err := e.Get(a.ID)
		require.NoError(t, err)
		seqBefore := e.LastSeq()

		_, _, err = e.Bid(a.ID, "bob", 500, 1500)
		assert.ErrorIs(t, err, domain.ErrAlreadySettled)
		_, _, err = e.Finalize(a.ID, 3000)
		assert.ErrorIs(t, err, domain.ErrAlreadySettled)
		_, err = e.Cancel(a.ID, 3000)
		assert.ErrorIs(t, err, domain.ErrAlreadySettled)

		after, err := e.Get(a.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after, "case %d", i)
		assert.Equal(t, seqBefore, e.LastSeq(), "case %d", i)
	}
}
