package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender posts Notifications to a generic HTTP endpoint, HMAC-
// signing the body when a secret is configured. Grounded on the
// teacher's internal/alert.WebhookSender.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender builds a WebhookSender. secret may be empty, in which
// case requests are sent unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{url: url, secret: secret, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSender) Name() string { return "webhook" }

// Send posts n as JSON to the configured URL.
func (w *WebhookSender) Send(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "prefctl/1.0")
	if w.secret != "" {
		req.Header.Set("X-Prefctl-Signature", computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
