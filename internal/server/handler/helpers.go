package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/leaselock/auctiond/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to an HTTP status: validation errors
// are 400, wrong-state and lock conflicts are 409, economic rejections are
// 422, and anything unrecognized is 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTimes),
		errors.Is(err, domain.ErrInvalidReserve),
		errors.Is(err, domain.ErrInvalidIncrement),
		errors.Is(err, domain.ErrInvalidExtendWindow),
		errors.Is(err, domain.ErrInvalidExtendSecs),
		errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrEnded),
		errors.Is(err, domain.ErrNotEnded),
		errors.Is(err, domain.ErrCannotCancelWithBids),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBelowReserve),
		errors.Is(err, domain.ErrInsufficientIncrement):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// pathID extracts a named path parameter and parses it as a uint64 id.
func pathID(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}

// queryUint parses an unsigned query parameter, returning def when absent or
// malformed.
func queryUint(r *http.Request, name string, def uint64) uint64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// queryLimit parses the limit query parameter. Defaults to 100, capped at 1000.
func queryLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}
