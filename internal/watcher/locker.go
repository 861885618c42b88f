package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leaselock/auctiond/internal/domain"
)

// HTTPLocker drives an external access-control system over a webhook. The
// endpoint receives one JSON document per transition and must be idempotent.
type HTTPLocker struct {
	url    string
	client *http.Client
}

// NewHTTPLocker creates an HTTPLocker posting to the given URL.
func NewHTTPLocker(url string) *HTTPLocker {
	return &HTTPLocker{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// lockRequest is the webhook body for lock transitions.
type lockRequest struct {
	Action      string `json:"action"` // "lock" or "unlock"
	ResourceRef string `json:"resource_ref"`
	Holder      string `json:"holder,omitempty"`
}

// Unlock releases the resource to the given holder.
func (l *HTTPLocker) Unlock(ctx context.Context, resourceRef, holder string) error {
	return l.post(ctx, lockRequest{Action: "unlock", ResourceRef: resourceRef, Holder: holder})
}

// Lock re-locks the resource.
func (l *HTTPLocker) Lock(ctx context.Context, resourceRef string) error {
	return l.post(ctx, lockRequest{Action: "lock", ResourceRef: resourceRef})
}

func (l *HTTPLocker) post(ctx context.Context, body lockRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("locker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("locker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("locker: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("locker: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// LogLocker records lock transitions without driving hardware. Used when no
// locker endpoint is configured.
type LogLocker struct {
	logger *slog.Logger
}

// NewLogLocker creates a LogLocker.
func NewLogLocker(logger *slog.Logger) *LogLocker {
	return &LogLocker{logger: logger}
}

// Unlock logs the release.
func (l *LogLocker) Unlock(ctx context.Context, resourceRef, holder string) error {
	l.logger.InfoContext(ctx, "unlock requested",
		slog.String("resource_ref", resourceRef),
		slog.String("holder", holder),
	)
	return nil
}

// Lock logs the re-lock.
func (l *LogLocker) Lock(ctx context.Context, resourceRef string) error {
	l.logger.InfoContext(ctx, "lock requested",
		slog.String("resource_ref", resourceRef),
	)
	return nil
}

var (
	_ domain.ResourceLocker = (*HTTPLocker)(nil)
	_ domain.ResourceLocker = (*LogLocker)(nil)
)
