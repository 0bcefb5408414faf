// Package cache provides the content-addressed response cache used by the
// evidence retrievers and the evidence evaluator.
//
// Values are deep-copied on read and write so callers can never mutate a
// cached entry through a shared pointer. Expired entries are deleted on
// access; a probabilistic prune bounds memory between accesses.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"
)

// maxRawKeyLen is the longest key stored verbatim. Longer keys are hashed
// to a short hex string so claim text of arbitrary length stays bounded.
const maxRawKeyLen = 250

// pruneOneIn is the probability denominator for the prune-on-Set sweep.
const pruneOneIn = 32

// Cache is a TTL map keyed by content-derived strings.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	payload   []byte // JSON-encoded value; decoded on Get for deep-copy semantics
	expiresAt time.Time
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives a cache key from its parts. Keys longer than 250 characters
// are replaced by a SHA-256 hex digest.
func Key(parts ...string) string {
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\x1f"
		}
		joined += p
	}
	if len(joined) <= maxRawKeyLen {
		return joined
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Get decodes the cached value for key into dst and returns true on hit.
// An expired entry is deleted and reported as a miss.
func (c *Cache) Get(key string, dst any) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false
	}
	return json.Unmarshal(e.payload, dst) == nil
}

// Set stores value under key with the configured TTL. The value is encoded
// immediately, so later mutations by the caller do not leak into the cache.
func (c *Cache) Set(key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	if rand.IntN(pruneOneIn) == 0 {
		c.Prune()
	}
}

// Prune removes all expired entries.
func (c *Cache) Prune() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
