package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookNotifier is an HTTP implementation of the Notifier interface. It
// POSTs each approval request as JSON to a configured endpoint, typically a
// chat-ops bridge or the UI's event ingest.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: http.DefaultClient}
}

// ApprovalRequested delivers the request to the webhook endpoint.
func (n *WebhookNotifier) ApprovalRequested(ctx context.Context, req ApprovalRequest) error {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to deliver approval notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("approval notification rejected: status code %d", resp.StatusCode)
	}
	return nil
}
