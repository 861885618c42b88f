package engine

import "github.com/leaselock/auctiond/internal/domain"

// Finalize settles an auction after its bidding window has closed. When the
// reserve was met, the clearing price is the greater of the second-best total
// and the reserve; the seller is paid the clearing price, the winner is
// refunded any overpayment, and every other bidder is refunded in full. When
// the reserve was not met, every bidder is refunded and the auction fails.
// Escrow entries are zeroed in the same transition, so the amounts paid out
// and refunded always reconcile exactly with the amounts ever escrowed.
func (e *Engine) Finalize(auctionID uint64, now int64) (domain.Settlement, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return domain.Settlement{}, nil, domain.ErrNotFound
	}
	if a.Settled != "" {
		return domain.Settlement{}, nil, domain.ErrAlreadySettled
	}
	if now < a.EndTime {
		return domain.Settlement{}, nil, domain.ErrNotEnded
	}

	entries := e.escrowEntriesLocked(auctionID)

	// Reserve not met: refund everyone and mark the auction failed.
	if a.LeadingTotal < a.Reserve {
		events := make([]domain.Event, 0, len(entries)+1)
		for _, entry := range entries {
			events = append(events, refundEvent(auctionID, entry.Bidder, entry.Amount))
		}
		events = append(events, domain.Event{
			Kind:      domain.EventFailed,
			AuctionID: auctionID,
			Reserve:   a.Reserve,
		})
		e.clearEscrowLocked(auctionID)
		a.Settled = domain.StatusSettledFailed
		return domain.Settlement{AuctionID: auctionID}, e.emit(events...), nil
	}

	clearing := a.SecondTotal
	if clearing < a.Reserve {
		clearing = a.Reserve
	}
	winnerRefund := a.LeadingTotal - clearing

	events := make([]domain.Event, 0, len(entries)+3)
	events = append(events, domain.Event{
		Kind:      domain.EventPayout,
		AuctionID: auctionID,
		Recipient: a.Seller,
		Amount:    clearing,
	})
	if winnerRefund > 0 {
		events = append(events, refundEvent(auctionID, a.LeadingBidder, winnerRefund))
	}
	for _, entry := range entries {
		if entry.Bidder == a.LeadingBidder {
			continue
		}
		events = append(events, refundEvent(auctionID, entry.Bidder, entry.Amount))
	}
	events = append(events, domain.Event{
		Kind:          domain.EventFinalized,
		AuctionID:     auctionID,
		Winner:        a.LeadingBidder,
		ClearingPrice: clearing,
		ResourceRef:   a.ResourceRef,
	})

	e.clearEscrowLocked(auctionID)
	a.Settled = domain.StatusSettledSuccess

	return domain.Settlement{
		AuctionID:     auctionID,
		ReserveMet:    true,
		Winner:        a.LeadingBidder,
		ClearingPrice: clearing,
		WinnerRefund:  winnerRefund,
	}, e.emit(events...), nil
}

// Cancel withdraws an auction. Cancellation is always allowed before the
// bidding window opens and, once it has opened, only while no bid has ever
// been accepted. Any escrowed funds are refunded.
func (e *Engine) Cancel(auctionID uint64, now int64) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Settled != "" {
		return nil, domain.ErrAlreadySettled
	}
	if a.HasBids() && now >= a.StartTime {
		return nil, domain.ErrCannotCancelWithBids
	}

	var events []domain.Event
	if a.HasBids() {
		for _, entry := range e.escrowEntriesLocked(auctionID) {
			events = append(events, refundEvent(auctionID, entry.Bidder, entry.Amount))
		}
		e.clearEscrowLocked(auctionID)
	}
	events = append(events, domain.Event{
		Kind:      domain.EventCancelled,
		AuctionID: auctionID,
	})
	a.Settled = domain.StatusCancelled

	return e.emit(events...), nil
}

func refundEvent(auctionID uint64, recipient string, amount int64) domain.Event {
	return domain.Event{
		Kind:      domain.EventRefund,
		AuctionID: auctionID,
		Recipient: recipient,
		Amount:    amount,
	}
}

// clearEscrowLocked zeroes every escrow entry for the auction. Must be called
// with e.mu held.
func (e *Engine) clearEscrowLocked(auctionID uint64) {
	for k := range e.escrow {
		if k.auctionID == auctionID {
			delete(e.escrow, k)
		}
	}
}
