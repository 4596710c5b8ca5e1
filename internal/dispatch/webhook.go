package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/models"
	"github.com/contex-io/contex/pkg/webhook"
)

// Webhook delivery defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// EventHeader carries the envelope type of a delivery.
const EventHeader = "X-Contex-Event"

// WebhookSender POSTs envelopes to subscriber endpoints with retries
// and a per-URL circuit breaker.
type WebhookSender struct {
	client      *http.Client
	breakers    *Breakers
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	userAgent   string
}

// WebhookOption configures the sender.
type WebhookOption func(*WebhookSender)

// WithMaxAttempts sets the total attempt count per delivery.
func WithMaxAttempts(n int) WebhookOption {
	return func(s *WebhookSender) { s.maxAttempts = n }
}

// WithBaseDelay sets the delay before the first retry. Subsequent
// delays double, jittered by ±25%, capped at the max delay.
func WithBaseDelay(d time.Duration) WebhookOption {
	return func(s *WebhookSender) { s.baseDelay = d }
}

// WithRequestTimeout sets the per-request HTTP timeout.
func WithRequestTimeout(d time.Duration) WebhookOption {
	return func(s *WebhookSender) { s.client.Timeout = d }
}

// NewWebhookSender creates a sender sharing the given breaker registry.
func NewWebhookSender(breakers *Breakers, version string, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		client:      &http.Client{Timeout: DefaultRequestTimeout},
		breakers:    breakers,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		userAgent:   "Contex-Webhook/" + version,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers one signed envelope. It retries on connection errors,
// timeouts, and 5xx; 4xx is permanent. The overall outcome (not each
// attempt) feeds the destination's circuit breaker.
func (s *WebhookSender) Send(ctx context.Context, url, secret, eventType string, body []byte) error {
	cb := s.breakers.For(url)
	if !cb.Allow() {
		log.Warn().Str("url", url).Msg("Webhook suppressed by open circuit")
		return fmt.Errorf("%w: %s", models.ErrCircuitOpen, url)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = s.maxDelay
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		return s.post(ctx, url, secret, eventType, body)
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx))
	if err != nil {
		cb.RecordFailure()
		log.Warn().Str("url", url).Int("attempts", attempt).Err(err).Msg("Webhook delivery failed")
		return fmt.Errorf("webhook delivery to %s after %d attempts: %w", url, attempt, err)
	}

	cb.RecordSuccess()
	log.Debug().Str("url", url).Str("event", eventType).Int("attempts", attempt).Msg("Webhook delivered")
	return nil
}

func (s *WebhookSender) post(ctx context.Context, url, secret, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	req.Header.Set("User-Agent", s.userAgent)
	if secret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.Sign(secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client errors are permanent; retrying cannot fix them.
		return backoff.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
}
