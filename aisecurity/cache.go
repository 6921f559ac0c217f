package aisecurity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"
)

// VerdictKey derives the cache key for a profile/content combination. The
// same digest is used by the distributed verdict cache, so local and Redis
// lookups agree on identity.
func VerdictKey(profile AIProfile, contents []ScanContent) string {
	h := sha256.New()
	io.WriteString(h, profile.ProfileID)
	io.WriteString(h, "\x00")
	io.WriteString(h, profile.ProfileName)
	for _, c := range contents {
		io.WriteString(h, "\x00")
		io.WriteString(h, c.Prompt)
		io.WriteString(h, "\x00")
		io.WriteString(h, c.Response)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type verdictEntry struct {
	value      *ScanResponse
	expiration time.Time
}

// verdictCache is a simple in-memory TTL cache for sync scan verdicts.
type verdictCache struct {
	mu      sync.RWMutex
	entries map[string]*verdictEntry
	ttl     time.Duration
	done    chan struct{}
}

func newVerdictCache(ttl time.Duration) *verdictCache {
	c := &verdictCache{
		entries: make(map[string]*verdictEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func (c *verdictCache) get(key string) (*ScanResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiration) {
		return nil, false
	}
	return entry.value, true
}

func (c *verdictCache) set(key string, value *ScanResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &verdictEntry{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
}

func (c *verdictCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup evicts expired entries every TTL until stop is called.
func (c *verdictCache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiration) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *verdictCache) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
