package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when a signing secret is set.
const SignatureHeader = "X-Alarm-Signature"

// Notification is one rendered alarm notification.
type Notification struct {
	Event      string
	AlarmID    string
	TenantID   string
	Originator string
	Severity   string
	Text       string
}

// Channel delivers notifications.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

type webhookPayload struct {
	Event      string    `json:"event"`
	AlarmID    string    `json:"alarmId"`
	TenantID   string    `json:"tenantId"`
	Originator string    `json:"originator"`
	Severity   string    `json:"severity"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// WebhookChannel posts alarm notifications as JSON.
type WebhookChannel struct {
	url    string
	secret []byte
	client *http.Client
	clock  Clock
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithSigningSecret signs every body with HMAC-SHA256.
func WithSigningSecret(secret []byte) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.secret = secret
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, timeout time.Duration, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ch := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts the notification.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		Event:      n.Event,
		AlarmID:    n.AlarmID,
		TenantID:   n.TenantID,
		Originator: n.Originator,
		Severity:   n.Severity,
		Text:       n.Text,
		SentAt:     w.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: alarm %s: status %d: %s", n.AlarmID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
