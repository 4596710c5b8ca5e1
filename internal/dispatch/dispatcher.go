// Package dispatch delivers serialized envelopes to subscribers over
// two transports: best-effort pub/sub and at-least-once webhooks with
// retries and per-URL circuit breaking.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// DefaultMaxInFlight bounds concurrent background webhook deliveries.
const DefaultMaxInFlight = 256

// webhookDeadline bounds one background delivery including retries.
const webhookDeadline = 2 * time.Minute

// Dispatcher routes envelopes to a subscription's transport. Pub/sub is
// synchronous; webhooks run on a bounded background pool, and
// deliveries beyond the high-water mark are rejected with a
// backpressure error instead of growing memory without limit.
type Dispatcher struct {
	webhooks    *WebhookSender
	pubsub      contracts.PubSub
	sem         *semaphore.Weighted
	wg          sync.WaitGroup
	maxInFlight int64
}

// New creates a dispatcher. maxInFlight <= 0 selects the default.
func New(webhooks *WebhookSender, pubsub contracts.PubSub, maxInFlight int) *Dispatcher {
	n := int64(maxInFlight)
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	return &Dispatcher{
		webhooks:    webhooks,
		pubsub:      pubsub,
		sem:         semaphore.NewWeighted(n),
		maxInFlight: n,
	}
}

// Deliver sends one envelope to the subscription. For webhook mode the
// send is fire-and-forget: the returned error only reports rejection
// (backpressure), never the delivery outcome.
func (d *Dispatcher) Deliver(ctx context.Context, sub *models.Subscription, eventType string, body []byte) error {
	switch sub.Delivery.Mode {
	case models.DeliveryWebhook:
		return d.deliverWebhook(sub, eventType, body)
	case models.DeliveryPubSub:
		if err := d.pubsub.Publish(ctx, sub.Delivery.Channel, body); err != nil {
			// Best-effort transport: log and move on.
			log.Warn().Str("agent", sub.AgentID).Str("channel", sub.Delivery.Channel).Err(err).Msg("Pub/sub publish failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown delivery mode %q", models.ErrValidation, sub.Delivery.Mode)
	}
}

func (d *Dispatcher) deliverWebhook(sub *models.Subscription, eventType string, body []byte) error {
	if !d.sem.TryAcquire(1) {
		log.Warn().Str("agent", sub.AgentID).Int64("max_in_flight", d.maxInFlight).Msg("Webhook delivery rejected: queue full")
		return fmt.Errorf("%w: %d webhook deliveries in flight", models.ErrBackpressure, d.maxInFlight)
	}

	url, secret := sub.Delivery.URL, sub.Delivery.Secret
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		// Detached from the request context: the publish call does not
		// wait for webhook outcomes.
		ctx, cancel := context.WithTimeout(context.Background(), webhookDeadline)
		defer cancel()
		_ = d.webhooks.Send(ctx, url, secret, eventType, body)
	}()
	return nil
}

// Drain blocks until in-flight webhook deliveries finish or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BreakerStates exposes circuit breaker states for introspection.
func (d *Dispatcher) BreakerStates() map[string]BreakerState {
	if d.webhooks == nil || d.webhooks.breakers == nil {
		return nil
	}
	return d.webhooks.breakers.States()
}
