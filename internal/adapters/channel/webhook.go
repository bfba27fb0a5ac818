package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"journey-engine/internal/domain"
	"journey-engine/internal/retry"
)

// WebhookConfig holds the outbound channel API settings.
type WebhookConfig struct {
	Endpoint   string        // base URL; messages go to {Endpoint}/{channel}/messages
	Timeout    time.Duration // HTTP timeout
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // delay between retries
}

// StatusError is a non-2xx response from a channel or token endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("channel api error (status %d): %s", e.StatusCode, e.Body)
}

// IsRecoverable reports whether the status is worth retrying: 429 and 5xx.
func (e *StatusError) IsRecoverable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// WebhookSender implements ports.Messenger by POSTing each message as JSON.
type WebhookSender struct {
	config     WebhookConfig
	httpClient *http.Client
	tokens     *STSClient
}

// NewWebhookSender creates a sender. tokens may be nil for endpoints without auth.
func NewWebhookSender(config WebhookConfig, tokens *STSClient) *WebhookSender {
	return &WebhookSender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		tokens: tokens,
	}
}

// Send delivers msg, retrying recoverable failures.
func (s *WebhookSender) Send(ctx context.Context, msg domain.Message) error {
	url := fmt.Sprintf("%s/%s/messages", s.config.Endpoint, msg.Channel)

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, url, msg)
		if lastErr == nil {
			return nil
		}
		if !retry.IsRecoverable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d retries: %w", s.config.MaxRetries, lastErr)
}

func (s *WebhookSender) post(ctx context.Context, url string, msg domain.Message) error {
	var bearer string
	if s.tokens != nil {
		token, err := s.tokens.GetToken(ctx)
		if err != nil {
			return fmt.Errorf("get access token: %w", err)
		}
		bearer = token
	}
	return postJSON(ctx, s.httpClient, url, bearer, msg, nil)
}
