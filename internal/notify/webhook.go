package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Format selects the webhook payload shape.
type Format string

const (
	FormatGeneric   Format = "generic"
	FormatPagerDuty Format = "pagerduty"
	FormatOpsgenie  Format = "opsgenie"
)

const maxAttempts = 3

// WebhookChannel delivers notifications to an HTTP webhook endpoint.
// Delivery is best-effort: a handful of attempts with exponential pauses,
// and client errors (4xx) are never retried.
type WebhookChannel struct {
	name   string
	url    string
	secret string
	format Format
	client *http.Client
}

// NewWebhookChannel creates a webhook channel with sensible defaults.
func NewWebhookChannel(name, url, secret string, format Format, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if format == "" {
		format = FormatGeneric
	}
	return &WebhookChannel{
		name:   name,
		url:    url,
		secret: secret,
		format: format,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the channel in logs and metrics.
func (c *WebhookChannel) Name() string { return c.name }

// nonRetryableError wraps errors that should not be retried (e.g., 4xx).
type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// Send delivers one notification to the webhook endpoint.
func (c *WebhookChannel) Send(ctx context.Context, target, severity, title, body string, metadata map[string]string) error {
	payload, contentType, err := c.buildPayload(target, severity, title, body, metadata)
	if err != nil {
		return fmt.Errorf("build webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			pause := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}

		lastErr = c.doPost(ctx, payload, contentType)
		if lastErr == nil {
			return nil
		}
		if _, ok := lastErr.(*nonRetryableError); ok {
			return lastErr
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *WebhookChannel) buildPayload(target, severity, title, body string, metadata map[string]string) ([]byte, string, error) {
	switch c.format {
	case FormatPagerDuty:
		data, err := json.Marshal(map[string]interface{}{
			"event_action": "trigger",
			"payload": map[string]interface{}{
				"summary":        title,
				"source":         target,
				"severity":       pagerDutySeverity(severity),
				"custom_details": map[string]interface{}{"body": body, "metadata": metadata},
			},
		})
		return data, "application/json", err
	case FormatOpsgenie:
		data, err := json.Marshal(map[string]interface{}{
			"message":     title,
			"description": body,
			"priority":    opsgeniePriority(severity),
			"details":     metadata,
			"entity":      target,
		})
		return data, "application/json", err
	default:
		data, err := json.Marshal(map[string]interface{}{
			"target":   target,
			"severity": severity,
			"title":    title,
			"body":     body,
			"metadata": metadata,
		})
		return data, "application/json", err
	}
}

func (c *WebhookChannel) doPost(ctx context.Context, payload []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "remedy-orchestrator/webhook")

	if c.secret != "" {
		req.Header.Set("X-Webhook-Signature", ComputeHMAC(payload, c.secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &nonRetryableError{err: fmt.Errorf("client error: HTTP %d", resp.StatusCode)}
	}
	return nil
}

func pagerDutySeverity(severity string) string {
	switch severity {
	case "critical", "high":
		return "critical"
	case "medium":
		return "warning"
	default:
		return "info"
	}
}

func opsgeniePriority(severity string) string {
	switch severity {
	case "critical":
		return "P1"
	case "high":
		return "P2"
	case "medium":
		return "P3"
	default:
		return "P5"
	}
}

// ComputeHMAC signs a payload with HMAC-SHA256.
func ComputeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature against a payload and secret.
// The sender never calls this; it exists for webhook receivers validating
// the X-Webhook-Signature header this channel emits.
func VerifyHMAC(payload []byte, secret, signature string) bool {
	expected := ComputeHMAC(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
