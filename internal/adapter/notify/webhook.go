package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs each event as JSON to a fixed URL.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhook creates a WebhookNotifier. A nil client gets one with the
// configured timeout.
func NewWebhook(cfg config.WebhookNotifyConfig, client *http.Client) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook url is empty", domain.ErrConfiguration)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookNotifier{url: cfg.URL, headers: cfg.Headers, client: client}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev domain.DispatchEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "genrelay-notify")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.WrapOp("webhook.Notify", fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
