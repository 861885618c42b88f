package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks the liveness of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Either pinger may be nil, in
// which case that dependency is reported as skipped.
func NewHealthHandler(postgres, redis Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		logger:   logger,
	}
}

// HealthCheck reports service liveness and the health of backing stores.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := map[string]string{}

	deps["postgres"] = h.check(ctx, h.postgres)
	deps["redis"] = h.check(ctx, h.redis)

	for _, v := range deps {
		if v == "down" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	body := map[string]any{
		"status":       "ok",
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	writeJSON(w, status, body)
}

func (h *HealthHandler) check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "skipped"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}
