package domain

// EventKind identifies the state transition an event records.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventBidAccepted EventKind = "bid_accepted"
	EventExtended    EventKind = "extended"
	EventFinalized   EventKind = "finalized"
	EventFailed      EventKind = "failed"
	EventCancelled   EventKind = "cancelled"
	EventPayout      EventKind = "payout"
	EventRefund      EventKind = "refund"
)

// Event is one immutable record in the append-only auction event log. Seq is
// the engine-wide sequence number and the monotonic cursor that downstream
// consumers resume from. Only the fields relevant to the kind are set.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	AuctionID uint64    `json:"auction_id"`

	// created
	ResourceRef string `json:"resource_ref,omitempty"`
	Seller      string `json:"seller,omitempty"`
	Reserve     int64  `json:"reserve,omitempty"`

	// bid_accepted
	Bidder     string `json:"bidder,omitempty"`
	NewTotal   int64  `json:"new_total,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	NewEndTime int64  `json:"new_end_time,omitempty"` // also set on extended

	// finalized
	Winner        string `json:"winner,omitempty"`
	ClearingPrice int64  `json:"clearing_price,omitempty"`

	// payout / refund
	Recipient string `json:"recipient,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}
