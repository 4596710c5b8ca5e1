package dispatch

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPubSub publishes subscriber notifications over Redis channels.
// Delivery is best-effort: messages to channels without a listener are
// dropped by Redis, and no retries are attempted.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub wraps a Redis client as the pub/sub transport.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish sends the payload to the channel.
func (p *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// MemoryBus is the in-process pub/sub transport for the zero-config
// tier and for tests. Sends are non-blocking; a slow or absent listener
// loses messages, matching the best-effort contract.
type MemoryBus struct {
	mu        sync.RWMutex
	listeners map[string][]chan []byte
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{listeners: make(map[string][]chan []byte)}
}

// Publish fans the payload out to every listener on the channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners[channel] {
		select {
		case ch <- payload:
		default:
			log.Warn().Str("channel", channel).Msg("Pub/sub listener buffer full, message dropped")
		}
	}
	return nil
}

// Subscribe registers a listener and returns its buffered channel.
func (b *MemoryBus) Subscribe(channel string) chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.listeners[channel] = append(b.listeners[channel], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener registered with Subscribe.
func (b *MemoryBus) Unsubscribe(channel string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners := b.listeners[channel]
	for i, c := range listeners {
		if c == ch {
			b.listeners[channel] = append(listeners[:i], listeners[i+1:]...)
			close(c)
			break
		}
	}
}
