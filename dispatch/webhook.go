package dispatch

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

	"github.com/soundrise/notify/notification"
)

// EndpointResolver maps a user ID to that user's webhook endpoint and signing
// secret. An empty URL means the user has no endpoint configured.
type EndpointResolver func(ctx context.Context, userID string) (url, secret string, err error)

// WebhookTransport delivers notifications as signed JSON POSTs.
type WebhookTransport struct {
	client  *http.Client
	resolve EndpointResolver
}

// NewWebhookTransport creates the webhook transport. The HTTP client may be
// nil; the per-attempt timeout is enforced by the dispatcher through context.
func NewWebhookTransport(resolve EndpointResolver, client *http.Client) (*WebhookTransport, error) {
	if resolve == nil {
		return nil, fmt.Errorf("webhook transport: endpoint resolver is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookTransport{client: client, resolve: resolve}, nil
}

type webhookPayload struct {
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	Type      string                `json:"type"`
	Category  notification.Category `json:"category"`
	Priority  string                `json:"priority"`
	Title     string                `json:"title"`
	Message   string                `json:"message"`
	CreatedAt time.Time             `json:"created_at"`
}

func (t *WebhookTransport) Deliver(ctx context.Context, n notification.Notification) error {
	url, secret, err := t.resolve(ctx, n.UserID)
	if err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("%w: no webhook endpoint configured", ErrPermanent)
	}

	body, err := json.Marshal(webhookPayload{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Category:  n.Category,
		Priority:  n.Priority.String(),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Event", n.Type)

	// Timestamp-bound HMAC-SHA256, same scheme Stripe and GitHub use, so
	// receivers can verify authenticity and reject replays.
	if secret != "" {
		ts := time.Now().Unix()
		mac := hmac.New(sha256.New, []byte(secret))
		fmt.Fprintf(mac, "%d.%s", ts, body)
		req.Header.Set("X-Notify-Signature", hex.EncodeToString(mac.Sum(nil)))
		req.Header.Set("X-Notify-Timestamp", fmt.Sprintf("%d", ts))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// The endpoint is gone; retrying will not bring it back.
		return fmt.Errorf("%w: endpoint returned %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
}
