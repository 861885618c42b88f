package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/leaselock/auctiond/internal/domain"
	"github.com/leaselock/auctiond/internal/engine"
)

// AuctionService defines the methods the auction handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type AuctionService interface {
	Now() int64
	CreateAuction(ctx context.Context, p domain.CreateParams) (domain.Auction, error)
	PlaceBid(ctx context.Context, auctionID uint64, bidder string, amount, now int64) (domain.Auction, error)
	FinalizeAuction(ctx context.Context, auctionID uint64, now int64) (domain.Settlement, error)
	CancelAuction(ctx context.Context, auctionID uint64, now int64) error
	GetAuction(auctionID uint64) (domain.Auction, error)
	ListAuctions() []domain.Auction
	AuctionStatus(auctionID uint64, now int64) (domain.AuctionStatus, error)
	Escrow(auctionID uint64, bidder string) (int64, error)
	EscrowEntries(auctionID uint64) []engine.EscrowEntry
	EventsByAuction(ctx context.Context, auctionID uint64) ([]domain.Event, error)
}

// AuctionHandler serves the auction lifecycle endpoints.
type AuctionHandler struct {
	svc    AuctionService
	logger *slog.Logger

	// allowClockOverride permits callers to supply `now` on mutating
	// requests, used by integration environments to drive auction time.
	allowClockOverride bool
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionService, allowClockOverride bool, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		svc:                svc,
		logger:             logger,
		allowClockOverride: allowClockOverride,
	}
}

// bidRequest is the body for POST /api/auctions/{id}/bids.
type bidRequest struct {
	Bidder string `json:"bidder"`
	Amount int64  `json:"amount"`
	Now    *int64 `json:"now,omitempty"`
}

// timeRequest is the optional body for finalize and cancel requests.
type timeRequest struct {
	Now *int64 `json:"now,omitempty"`
}

// resolveNow returns the operation time: the service clock, or the caller's
// override when the deployment allows it. The second return is false when an
// override was supplied but overrides are disabled, after writing a 403.
func (h *AuctionHandler) resolveNow(w http.ResponseWriter, override *int64) (int64, bool) {
	if override == nil {
		return h.svc.Now(), true
	}
	if !h.allowClockOverride {
		writeError(w, http.StatusForbidden, "clock override is disabled")
		return 0, false
	}
	return *override, true
}

// CreateAuction registers a new auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var p domain.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.svc.CreateAuction(r.Context(), p)
	if err != nil {
		if isDomainErr(err) {
			writeDomainError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create auction failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create auction")
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions returns all auctions ordered by id.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions := h.svc.ListAuctions()
	writeJSON(w, http.StatusOK, map[string]any{
		"auctions": auctions,
		"total":    len(auctions),
	})
}

// GetAuction returns a single auction by id.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	a, err := h.svc.GetAuction(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetStatus returns the derived lifecycle status of an auction at the
// current clock (or at ?now= when overrides are enabled).
// GET /api/auctions/{id}/status
func (h *AuctionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	now := h.svc.Now()
	if v := r.URL.Query().Get("now"); v != "" && h.allowClockOverride {
		now = int64(queryUint(r, "now", uint64(now)))
	}

	status, err := h.svc.AuctionStatus(id, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"status":     status,
		"now":        now,
	})
}

// ListEscrow returns every non-zero escrow entry for an auction.
// GET /api/auctions/{id}/escrow
func (h *AuctionHandler) ListEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	if _, err := h.svc.GetAuction(id); err != nil {
		writeDomainError(w, err)
		return
	}

	entries := h.svc.EscrowEntries(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"entries":    entries,
	})
}

// GetEscrow returns one bidder's cumulative committed amount.
// GET /api/auctions/{id}/escrow/{bidder}
func (h *AuctionHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	bidder := r.PathValue("bidder")
	if bidder == "" {
		writeError(w, http.StatusBadRequest, "missing bidder")
		return
	}

	amount, err := h.svc.Escrow(id, bidder)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bidder":     bidder,
		"amount":     amount,
	})
}

// ListAuctionEvents returns the full event history of one auction.
// GET /api/auctions/{id}/events
func (h *AuctionHandler) ListAuctionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	if _, err := h.svc.GetAuction(id); err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := h.svc.EventsByAuction(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auction events failed",
			slog.Uint64("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"events":     events,
	})
}

// PlaceBid applies an additive escrow bid.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Bidder == "" {
		writeError(w, http.StatusBadRequest, "missing bidder")
		return
	}

	now, ok := h.resolveNow(w, req.Now)
	if !ok {
		return
	}

	a, err := h.svc.PlaceBid(r.Context(), id, req.Bidder, req.Amount, now)
	if err != nil {
		if isDomainErr(err) {
			writeDomainError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: place bid failed",
			slog.Uint64("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place bid")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Finalize settles an ended auction.
// POST /api/auctions/{id}/finalize
func (h *AuctionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	req, ok := h.decodeTime(w, r)
	if !ok {
		return
	}
	now, ok := h.resolveNow(w, req.Now)
	if !ok {
		return
	}

	res, err := h.svc.FinalizeAuction(r.Context(), id, now)
	if err != nil {
		if isDomainErr(err) {
			writeDomainError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: finalize failed",
			slog.Uint64("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to finalize auction")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Cancel cancels an auction.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	req, ok := h.decodeTime(w, r)
	if !ok {
		return
	}
	now, ok := h.resolveNow(w, req.Now)
	if !ok {
		return
	}

	if err := h.svc.CancelAuction(r.Context(), id, now); err != nil {
		if isDomainErr(err) {
			writeDomainError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel failed",
			slog.Uint64("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel auction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"status":     domain.StatusCancelled,
	})
}

// decodeTime reads the optional timeRequest body. An empty body is valid and
// yields the zero request.
func (h *AuctionHandler) decodeTime(w http.ResponseWriter, r *http.Request) (timeRequest, bool) {
	var req timeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return timeRequest{}, false
	}
	return req, true
}

// isDomainErr reports whether err is one of the sentinel domain errors that
// maps to a specific HTTP status.
func isDomainErr(err error) bool {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidTimes, domain.ErrInvalidReserve, domain.ErrInvalidIncrement,
		domain.ErrInvalidExtendWindow, domain.ErrInvalidExtendSecs, domain.ErrInvalidAmount,
		domain.ErrAlreadySettled, domain.ErrNotStarted, domain.ErrEnded,
		domain.ErrNotEnded, domain.ErrCannotCancelWithBids, domain.ErrLockHeld,
		domain.ErrBelowReserve, domain.ErrInsufficientIncrement,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
