package engine

import "github.com/leaselock/auctiond/internal/domain"

// Bid validates and applies a bid at the given clock value. Bids are
// additive: the amount is added to the bidder's existing escrow and the
// resulting total competes for leadership. All checks run before any state is
// written, so a rejected bid leaves the engine unchanged.
//
// The increment check compares the new total against the current leading
// total even when the bidder already leads, so a leader topping up their own
// position moves second_total to their own prior total. This reproduces the
// reference contract's behavior.
func (e *Engine) Bid(auctionID uint64, bidder string, amount int64, now int64) (domain.Auction, []domain.Event, error) {
	if amount <= 0 {
		return domain.Auction{}, nil, domain.ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return domain.Auction{}, nil, domain.ErrNotFound
	}
	if a.Settled != "" {
		return domain.Auction{}, nil, domain.ErrAlreadySettled
	}
	if now < a.StartTime {
		return domain.Auction{}, nil, domain.ErrNotStarted
	}
	if now > a.EndTime {
		return domain.Auction{}, nil, domain.ErrEnded
	}

	key := escrowKey{auctionID, bidder}
	newTotal := e.escrow[key] + amount
	if newTotal < a.Reserve {
		return domain.Auction{}, nil, domain.ErrBelowReserve
	}
	if newTotal < a.LeadingTotal+a.MinIncrement {
		return domain.Auction{}, nil, domain.ErrInsufficientIncrement
	}

	// Commit: escrow first, then leadership.
	e.escrow[key] = newTotal
	a.SecondTotal = a.LeadingTotal
	a.LeadingTotal = newTotal
	a.LeadingBidder = bidder

	var events []domain.Event
	if extended := e.maybeExtend(a, now); extended {
		events = append(events, domain.Event{
			Kind:       domain.EventExtended,
			AuctionID:  a.ID,
			NewEndTime: a.EndTime,
		})
	}
	events = append(events, domain.Event{
		Kind:       domain.EventBidAccepted,
		AuctionID:  a.ID,
		Bidder:     bidder,
		NewTotal:   newTotal,
		Timestamp:  now,
		NewEndTime: a.EndTime,
	})

	return *a, e.emit(events...), nil
}

// maybeExtend applies the anti-sniping rule after an accepted bid: when the
// bid lands within extend_window of the close and the extension budget is not
// exhausted, the end time is pushed out by extend_secs. Must be called with
// e.mu held.
func (e *Engine) maybeExtend(a *domain.Auction, now int64) bool {
	if a.ExtensionsUsed >= a.MaxExtensions {
		return false
	}
	if a.EndTime-now > a.ExtendWindow {
		return false
	}
	a.EndTime += a.ExtendSecs
	a.ExtensionsUsed++
	return true
}
