// Package domain defines the core auction types, the event model, sentinel
// errors, and the store/bus interfaces implemented by the infrastructure
// packages.
package domain

// AuctionStatus tracks the auction lifecycle. Pending, Active, and Ended are
// derived from the caller-supplied clock; the settled and cancelled statuses
// are terminal flags.
type AuctionStatus string

const (
	StatusPending        AuctionStatus = "pending"
	StatusActive         AuctionStatus = "active"
	StatusEnded          AuctionStatus = "ended"
	StatusSettledSuccess AuctionStatus = "settled_success"
	StatusSettledFailed  AuctionStatus = "settled_failed"
	StatusCancelled      AuctionStatus = "cancelled"
)

// Terminal reports whether the status permits no further operations.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case StatusSettledSuccess, StatusSettledFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Auction is the authoritative record of one sub-lease offering. All monetary
// fields are integer asset base units; all times are unix seconds.
type Auction struct {
	ID           uint64 `json:"id"`
	ResourceRef  string `json:"resource_ref"`
	Seller       string `json:"seller"`
	PaymentAsset string `json:"payment_asset"`
	Reserve      int64  `json:"reserve"`
	MinIncrement int64  `json:"min_increment"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"` // mutable: pushed out by anti-sniping extensions
	ExtendSecs   int64  `json:"extend_secs"`
	ExtendWindow int64  `json:"extend_window"`

	MaxExtensions  int `json:"max_extensions"`
	ExtensionsUsed int `json:"extensions_used"`

	// LeadingBidder holds the seller as a sentinel until the first bid is
	// accepted; the seller can never be declared winner of their own auction.
	LeadingTotal  int64  `json:"leading_total"`
	LeadingBidder string `json:"leading_bidder"`
	SecondTotal   int64  `json:"second_total"`

	// Settled holds the terminal status once the auction reaches one, and is
	// empty while the auction is live. Status() combines it with the clock.
	Settled AuctionStatus `json:"settled,omitempty"`
}

// Status derives the auction status at the given clock value.
func (a *Auction) Status(now int64) AuctionStatus {
	if a.Settled != "" {
		return a.Settled
	}
	switch {
	case now < a.StartTime:
		return StatusPending
	case now <= a.EndTime:
		return StatusActive
	default:
		return StatusEnded
	}
}

// HasBids reports whether any bid has ever been accepted.
func (a *Auction) HasBids() bool {
	return a.LeadingTotal > 0
}

// CreateParams carries the caller-supplied auction configuration.
type CreateParams struct {
	ResourceRef  string `json:"resource_ref"`
	Seller       string `json:"seller"`
	PaymentAsset string `json:"payment_asset"`
	Reserve      int64  `json:"reserve"`
	MinIncrement int64  `json:"min_increment"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	ExtendSecs   int64  `json:"extend_secs"`
	ExtendWindow int64  `json:"extend_window"`
}

// Validate checks the creation parameters against the registry invariants.
func (p CreateParams) Validate() error {
	if p.StartTime >= p.EndTime {
		return ErrInvalidTimes
	}
	if p.Reserve <= 0 {
		return ErrInvalidReserve
	}
	if p.MinIncrement <= 0 {
		return ErrInvalidIncrement
	}
	if p.ExtendWindow <= 0 {
		return ErrInvalidExtendWindow
	}
	if p.ExtendSecs <= 0 {
		return ErrInvalidExtendSecs
	}
	return nil
}

// Settlement is the outcome of a successful finalize call.
type Settlement struct {
	AuctionID     uint64 `json:"auction_id"`
	ReserveMet    bool   `json:"reserve_met"`
	Winner        string `json:"winner,omitempty"`
	ClearingPrice int64  `json:"clearing_price,omitempty"`
	WinnerRefund  int64  `json:"winner_refund,omitempty"`
}
