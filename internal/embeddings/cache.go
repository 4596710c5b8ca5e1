package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// cacheKey addresses cache entries by content: sha256 of the UTF-8 text.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// encodeVector serializes a vector as little-endian float32 bytes.
// The encoding is lossless: decodeVector returns exactly the input.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// MemoryCache is an in-process embedding cache with TTL expiry. Entries
// are checked lazily on Get; a background sweeper is not needed because
// the working set is bounded by the corpus of distinct texts.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
}

type memoryCacheEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl.
// A zero ttl means entries never expire.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached vector for text, or false on miss or expiry.
func (c *MemoryCache) Get(ctx context.Context, text string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(text)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.Delete(ctx, text)
		return nil, false
	}
	vec := decodeVector(entry.data)
	if vec == nil {
		return nil, false
	}
	return vec, true
}

// Set stores the vector for text.
func (c *MemoryCache) Set(ctx context.Context, text string, vector []float32) {
	entry := memoryCacheEntry{data: encodeVector(vector)}
	if c.ttl > 0 {
		entry.expires = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[cacheKey(text)] = entry
	c.mu.Unlock()
}

// Delete removes the entry for text.
func (c *MemoryCache) Delete(ctx context.Context, text string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(text))
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryCacheEntry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries (expired ones included until
// their next Get).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
