package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
)

// ChangeEvent is the payload posted to webhook URLs for every fired batch of changes.
type ChangeEvent struct {
	Event     string              `json:"event"`
	Changes   []*metastore.Change `json:"changes"`
	Timestamp string              `json:"timestamp"`
}

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs []string
}

// WebhookNotifier posts change messages to configured webhook URLs.
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
	logger *slog.Logger
	// retryDelay is the base pause between delivery attempts.
	retryDelay time.Duration
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config:     cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retryDelay: time.Second,
	}
}

// NotifyChanges delivers changes to every configured URL and waits for the result.
// A nil notifier or an empty batch is a no-op.
func (wn *WebhookNotifier) NotifyChanges(ctx context.Context, changes []*metastore.Change) error {
	if wn == nil || len(changes) == 0 {
		return nil
	}

	event := &ChangeEvent{
		Event:     "changes",
		Changes:   changes,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	var errs []error
	for _, url := range wn.config.URLs {
		if err := wn.post(ctx, url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("deliver to %s: %w", url, err))
			continue
		}
		wn.logger.Debug("webhook: delivered", "url", url, "changes", len(changes))
	}
	return errors.Join(errs...)
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(ctx context.Context, url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * wn.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "stackmig-server/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
	}

	return lastErr
}
