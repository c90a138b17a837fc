// Package webhook delivers new-post notifications to a listener's
// configured endpoint: a JSON POST with a shared-secret header and a
// small number of flat-delay retries. Deliberately simple — no
// exponential backoff, no jitter, no circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kitfc/litehook/internal/pkg/logger"
)

// RetryDelay is the fixed delay between delivery attempts.
const RetryDelay = 1 * time.Second

// DefaultMaxAttempts is the number of delivery attempts the core uses
// for listener poll cycles (§4.3).
const DefaultMaxAttempts = 5

// Send posts payload as JSON to url, setting the x-secret header
// (empty string if secret is empty). Success is any status in
// [200, 300).
func Send(ctx context.Context, client *http.Client, url, secret string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-secret", secret)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s responded %d", url, resp.StatusCode)
	}

	return nil
}

// SendWithRetry calls Send up to maxAttempts total times, sleeping
// RetryDelay between attempts. Earlier failures are logged as
// warnings; the final attempt's error, if any, is returned to the
// caller.
func SendWithRetry(ctx context.Context, client *http.Client, url, secret string, payload interface{}, maxAttempts int) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = Send(ctx, client, url, secret, payload)
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts {
			logger.Warn("webhook delivery failed, retrying", "attempt", attempt, "max_attempts", maxAttempts, "error", lastErr.Error())
			select {
			case <-time.After(RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		logger.Error("webhook delivery failed after all attempts", "max_attempts", maxAttempts, "error", lastErr.Error())
	}

	return lastErr
}
