package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaselock/auctiond/internal/domain"
)

func validParams() domain.CreateParams {
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

func mustCreate(t *testing.T, e *Engine, p domain.CreateParams) domain.Auction {
	t.Helper()
	a, _, err := e.Create(p)
	require.NoError(t, err)
	return a
}

func TestCreate_AllocatesMonotonicIDs(t *testing.T) {
	e := New()

	a1 := mustCreate(t, e, validParams())
	a2 := mustCreate(t, e, validParams())

	assert.Equal(t, uint64(1), a1.ID)
	assert.Equal(t, uint64(2), a2.ID)
}

func TestCreate_InitializesSentinelLeader(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	assert.Equal(t, "seller", a.LeadingBidder)
	assert.Equal(t, int64(0), a.LeadingTotal)
	assert.Equal(t, int64(0), a.SecondTotal)
	assert.Equal(t, MaxExtensions, a.MaxExtensions)
	assert.Equal(t, 0, a.ExtensionsUsed)
}

func TestCreate_EmitsCreatedEvent(t *testing.T) {
	e := New()
	_, events, err := e.Create(validParams())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCreated, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, "lease-node-7", events[0].ResourceRef)
	assert.Equal(t, "seller", events[0].Seller)
	assert.Equal(t, int64(100), events[0].Reserve)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.CreateParams)
		want   error
	}{
		{"start equals end", func(p *domain.CreateParams) { p.StartTime = p.EndTime }, domain.ErrInvalidTimes},
		{"start after end", func(p *domain.CreateParams) { p.StartTime = p.EndTime + 1 }, domain.ErrInvalidTimes},
		{"zero reserve", func(p *domain.CreateParams) { p.Reserve = 0 }, domain.ErrInvalidReserve},
		{"negative reserve", func(p *domain.CreateParams) { p.Reserve = -5 }, domain.ErrInvalidReserve},
		{"zero increment", func(p *domain.CreateParams) { p.MinIncrement = 0 }, domain.ErrInvalidIncrement},
		{"zero extend window", func(p *domain.CreateParams) { p.ExtendWindow = 0 }, domain.ErrInvalidExtendWindow},
		{"zero extend secs", func(p *domain.CreateParams) { p.ExtendSecs = 0 }, domain.ErrInvalidExtendSecs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			p := validParams()
			tt.mutate(&p)

			_, events, err := e.Create(p)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, events)
			assert.Equal(t, uint64(0), e.LastSeq())
		})
	}
}

func TestBid_StateChecks(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 0, 1500)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = e.Bid(999, "alice", 150, 1500)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = e.Bid(a.ID, "alice", 150, 999)
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	_, _, err = e.Bid(a.ID, "alice", 150, 2001)
	assert.ErrorIs(t, err, domain.ErrEnded)

	// Boundary: the window is inclusive on both ends.
	_, _, err = e.Bid(a.ID, "alice", 150, 1000)
	assert.NoError(t, err)
	_, _, err = e.Bid(a.ID, "bob", 200, 2000)
	assert.NoError(t, err)
}

func TestBid_BelowReserve_LeavesEscrowUntouched(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, events, err := e.Bid(a.ID, "alice", 50, 1500)
	assert.ErrorIs(t, err, domain.ErrBelowReserve)
	assert.Empty(t, events)

	escrow, err := e.Escrow(a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrow)

	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LeadingTotal)
	assert.Equal(t, "seller", got.LeadingBidder)
}

func TestBid_InsufficientIncrement(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 150, 1500)
	require.NoError(t, err)

	// 155 < 150 + 10
	_, _, err = e.Bid(a.ID, "bob", 155, 1500)
	assert.ErrorIs(t, err, domain.ErrInsufficientIncrement)

	// Exactly leading + increment is accepted.
	_, _, err = e.Bid(a.ID, "bob", 160, 1500)
	assert.NoError(t, err)
}

func TestBid_AdditiveEscrowAndLeadership(t *testing.T) {
	// Scenario from the design: reserve=100, min_increment=10.
	// A bids 150 (leads), B bids 200 (leads, second=150), A adds 60
	// (total 210, leads, second=200), B adds 50 (total 250, leads, second=210).
	e := New()
	a := mustCreate(t, e, validParams())

	st, _, err := e.Bid(a.ID, "alice", 150, 1100)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.LeadingTotal)
	assert.Equal(t, "alice", st.LeadingBidder)
	assert.Equal(t, int64(0), st.SecondTotal)

	st, _, err = e.Bid(a.ID, "bob", 200, 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.LeadingTotal)
	assert.Equal(t, "bob", st.LeadingBidder)
	assert.Equal(t, int64(150), st.SecondTotal)

	st, _, err = e.Bid(a.ID, "alice", 60, 1300)
	require.NoError(t, err)
	assert.Equal(t, int64(210), st.LeadingTotal)
	assert.Equal(t, "alice", st.LeadingBidder)
	assert.Equal(t, int64(200), st.SecondTotal)

	st, _, err = e.Bid(a.ID, "bob", 50, 1400)
	require.NoError(t, err)
	assert.Equal(t, int64(250), st.LeadingTotal)
	assert.Equal(t, "bob", st.LeadingBidder)
	assert.Equal(t, int64(210), st.SecondTotal)

	aliceEscrow, _ := e.Escrow(a.ID, "alice")
	bobEscrow, _ := e.Escrow(a.ID, "bob")
	assert.Equal(t, int64(210), aliceEscrow)
	assert.Equal(t, int64(250), bobEscrow)
}

func TestBid_LeaderSelfRebid_MovesSecondToOwnPriorTotal(t *testing.T) {
	// The reference rule: a leader topping up their own position sets
	// second_total to their own prior leading total, not to the best
	// competing bidder's total.
	e := New()
	a := mustCreate(t, e, validParams())

	_, _, err := e.Bid(a.ID, "alice", 150, 1100)
	require.NoError(t, err)
	_, _, err = e.Bid(a.ID, "alice", 50, 1200)
	require.NoError(t, err)

	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.LeadingTotal)
	assert.Equal(t, "alice", got.LeadingBidder)
	assert.Equal(t, int64(150), got.SecondTotal)
}

func TestBid_MonotonicLeadership(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	bids := []struct {
		bidder string
		amount int64
	}{
		{"alice", 150}, {"bob", 200}, {"carol", 240}, {"alice", 120}, {"bob", 100},
	}

	prevLeading := int64(0)
	for _, b := range bids {
		st, _, err := e.Bid(a.ID, b.bidder, b.amount, 1500)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.LeadingTotal, prevLeading)
		assert.LessOrEqual(t, st.SecondTotal, st.LeadingTotal)
		prevLeading = st.LeadingTotal
	}
}

func TestAntiSnipe_ExtendsWithinWindow(t *testing.T) {
	// end_time = T+120, extend_window = 30, extend_secs = 60; a bid 5s
	// before close pushes end_time to T+180.
	p := validParams()
	p.StartTime = 0
	p.EndTime = 120
	p.ExtendWindow = 30
	p.ExtendSecs = 60

	e := New()
	a := mustCreate(t, e, p)

	st, events, err := e.Bid(a.ID, "alice", 150, 115)
	require.NoError(t, err)
	assert.Equal(t, int64(180), st.EndTime)
	assert.Equal(t, 1, st.ExtensionsUsed)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventExtended, events[0].Kind)
	assert.Equal(t, int64(180), events[0].NewEndTime)
	assert.Equal(t, domain.EventBidAccepted, events[1].Kind)
	assert.Equal(t, int64(180), events[1].NewEndTime)
	assert.Equal(t, int64(115), events[1].Timestamp)
}

func TestAntiSnipe_NoExtensionOutsideWindow(t *testing.T) {
	p := validParams()
	p.StartTime = 0
	p.EndTime = 120
	p.ExtendWindow = 30
	p.ExtendSecs = 60

	e := New()
	a := mustCreate(t, e, p)

	st, events, err := e.Bid(a.ID, "alice", 150, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(120), st.EndTime)
	assert.Equal(t, 0, st.ExtensionsUsed)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBidAccepted, events[0].Kind)
}

func TestAntiSnipe_ExtensionBound(t *testing.T) {
	p := validParams()
	p.StartTime = 0
	p.EndTime = 100
	p.ExtendWindow = 1000 // every bid lands inside the window
	p.ExtendSecs = 10

	e := New()
	a := mustCreate(t, e, p)

	now := int64(50)
	for i := 0; i < MaxExtensions+5; i++ {
		st, _, err := e.Bid(a.ID, "alice", 150, now)
		require.NoError(t, err)
		assert.LessOrEqual(t, st.ExtensionsUsed, MaxExtensions)
		now = st.EndTime // keep bidding at the (moving) close
	}

	got, err := e.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxExtensions, got.ExtensionsUsed)
	// Worst case duration: original end + MaxExtensions * extend_secs.
	assert.Equal(t, int64(100+MaxExtensions*10), got.EndTime)
}

func TestStatus_DerivedFromClock(t *testing.T) {
	e := New()
	a := mustCreate(t, e, validParams())

	for _, tc := range []struct {
		now  int64
		want domain.AuctionStatus
	}{
		{999, domain.StatusPending},
		{1000, domain.StatusActive},
		{2000, domain.StatusActive},
		{2001, domain.StatusEnded},
	} {
		got, err := e.Status(a.ID, tc.now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "now=%d", tc.now)
	}

	_, err := e.Status(999, 1500)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
