package lookup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/client"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
)

// recordCache holds found ledger records by fingerprint. A record never
// changes once written, so the TTL bounds memory and nothing else.
type recordCache struct {
	mu      sync.RWMutex
	entries map[fingerprint.Fingerprint]cached
	ttl     time.Duration
	now     func() time.Time

	hits, misses atomic.Uint64
}

type cached struct {
	rec     *client.Record
	expires time.Time
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{
		entries: make(map[fingerprint.Fingerprint]cached),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *recordCache) get(fp fingerprint.Fingerprint) (*client.Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.rec, true
}

func (c *recordCache) set(fp fingerprint.Fingerprint, rec *client.Record) {
	c.mu.Lock()
	c.entries[fp] = cached{rec: rec, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// evict drops expired entries and reports how many went.
func (c *recordCache) evict() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for fp, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, fp)
			n++
		}
	}
	return n
}

// stats counts entries, expired ones included until the next evict.
func (c *recordCache) stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
