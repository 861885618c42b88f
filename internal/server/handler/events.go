package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/leaselock/auctiond/internal/domain"
)

// EventFeed defines the journal reads the events handler requires.
type EventFeed interface {
	EventsSince(ctx context.Context, cursor uint64, limit int) ([]domain.Event, error)
}

// EventsHandler serves the global event feed and the journal export trigger.
type EventsHandler struct {
	feed     EventFeed
	exporter JournalExporter
	logger   *slog.Logger
}

// JournalExporter copies journal events to cold storage. Nil when the
// archiver is disabled.
type JournalExporter interface {
	ExportJournal(ctx context.Context, afterSeq uint64) (int64, string, error)
}

// NewEventsHandler creates an EventsHandler. exporter may be nil.
func NewEventsHandler(feed EventFeed, exporter JournalExporter, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		feed:     feed,
		exporter: exporter,
		logger:   logger,
	}
}

// ListEvents returns journal events after the given cursor, in sequence
// order. Consumers poll with their last seen seq to receive each event
// exactly once.
// GET /api/events?after=0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := queryUint(r, "after", 0)
	limit := queryLimit(r)

	events, err := h.feed.EventsSince(r.Context(), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"cursor": next,
	})
}

// ExportJournal uploads all journal events after the given cursor to cold
// storage and returns the object path.
// POST /api/events/export?after=0
func (h *EventsHandler) ExportJournal(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "archiver is disabled")
		return
	}

	after := queryUint(r, "after", 0)

	count, path, err := h.exporter.ExportJournal(r.Context(), after)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: journal export failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to export journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exported": count,
		"path":     path,
	})
}
