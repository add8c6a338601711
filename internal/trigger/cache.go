// Package trigger implements the Trigger (C6): the event-driven router
// described in spec.md §4.2, grounded on original_source's
// trigger/cmd/trigger.go (handleRun, handleTrigger, the completed map)
// but with typed JSON instead of the original's stringify-everything
// decode, and a TTL-backed cache in place of a bare Go map.
package trigger

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

// defaultCacheTTL is generous on purpose: the CompletionCache only needs
// to survive long enough to dedup retries within a single pipeline run,
// and spec.md §9 explicitly treats cross-restart durability as a
// follow-up, not a requirement.
const defaultCacheTTL = 24 * time.Hour

// CompletionCache is the Trigger's in-memory map of (date, event) pairs
// already routed. It is process-local and explicitly purgeable (§3).
//
// ttlcache.Cache is internally thread-safe, but a Has-then-Set sequence
// across two calls is not atomic by itself; mu serializes check-and-
// insert the way §5 requires ("guarded by a mutual-exclusion
// discipline so that the check-and-insert is atomic per (date, event)").
type CompletionCache struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[events.Key, struct{}]
}

// NewCompletionCache constructs an empty cache.
func NewCompletionCache() *CompletionCache {
	c := ttlcache.New[events.Key, struct{}](
		ttlcache.WithTTL[events.Key, struct{}](defaultCacheTTL),
	)
	go c.Start()
	return &CompletionCache{cache: c}
}

// CheckAndInsert atomically checks whether key is already present and,
// if not, inserts it. It reports true when the key was newly inserted
// (i.e., the caller should forward) and false when it was already
// present (i.e., a duplicate — the caller must not forward).
func (c *CompletionCache) CheckAndInsert(key events.Key) (inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache.Has(key) {
		return false
	}
	c.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// Purge empties the cache (§6: POST /purge).
func (c *CompletionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.DeleteAll()
}

// Stop releases the cache's background eviction goroutine.
func (c *CompletionCache) Stop() {
	c.cache.Stop()
}
