// Package webhook fires a structured notification at an instance's
// configured URL on every lifecycle event (qr, connected, disconnected,
// logged_out). Adapted from the teacher's WebhookServiceImpl, itself a
// per-session config map plus an async retrying HTTP sender; this
// Dispatcher drops the separate config registry since an instance's
// webhook_url already lives on its own row (spec.md's Instance Registry),
// keeping the async retry/backoff/HMAC-signature machinery.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"whatsfleet/pkg/logger"
)

const (
	defaultRetries = 3
	defaultTimeout = 30 * time.Second
)

// Event is one lifecycle notification fired at an instance's webhook URL.
type Event struct {
	InstanceID   uuid.UUID      `json:"instance_id"`
	InstanceName string         `json:"instance_name"`
	Event        string         `json:"event"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// Event names fired by the Supervisor/Coordinator lifecycle.
const (
	EventQR           = "qr"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventLoggedOut    = "logged_out"
)

// Dispatcher sends lifecycle events to each instance's configured URL
// asynchronously, sleeping attempt² seconds (1 s, 4 s, ...) between
// attempts across a fixed retry budget.
// A missing or empty URL is not an error: the instance simply has no
// webhook configured.
type Dispatcher struct {
	httpClient *http.Client
	secret     string
	retries    int
	log        logger.Logger
}

// New builds a Dispatcher. secret, if non-empty, signs every payload with
// HMAC-SHA256 in the X-Webhook-Signature header.
func New(secret string, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: defaultTimeout},
		secret:     secret,
		retries:    defaultRetries,
		log:        log.WithComponent("webhook-dispatcher"),
	}
}

// Fire sends evt to url in the background; it never blocks the caller
// (event handlers in the Supervisor must not stall on network I/O).
func (d *Dispatcher) Fire(url string, evt Event) {
	if url == "" {
		return
	}
	go d.sendWithRetry(url, evt)
}

func (d *Dispatcher) sendWithRetry(url string, evt Event) {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if err := d.send(url, evt); err != nil {
			lastErr = err
			d.log.WithError(err).WithFields(map[string]any{
				"instance": evt.InstanceName,
				"event":    evt.Event,
				"attempt":  attempt,
			}).Warn().Msg("webhook send failed, retrying")

			if attempt < d.retries {
				time.Sleep(time.Duration(attempt*attempt) * time.Second)
			}
			continue
		}
		return
	}

	d.log.WithError(lastErr).WithFields(map[string]any{
		"instance": evt.InstanceName,
		"event":    evt.Event,
		"attempts": d.retries,
	}).Error().Msg("webhook send failed after all retries")
}

func (d *Dispatcher) send(url string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "whatsfleet-webhook/1.0")
	if d.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, d.secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
