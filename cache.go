package schemagov

import (
	"time"

	"github.com/glimte/schemagov/schema"
	"github.com/hashicorp/golang-lru/simplelru"
)

// resultCache holds valid validation results by payload digest. Entries are
// kept in insertion order; when full the oldest fifth is dropped at once.
// It is not safe for concurrent use.
type resultCache struct {
	size    int
	entries *simplelru.LRU
}

func newResultCache(size int) *resultCache {
	if size < 1 {
		size = DefaultCacheSize
	}
	entries, err := simplelru.NewLRU(size, nil)
	if err != nil {
		panic(err)
	}
	return &resultCache{size: size, entries: entries}
}

// get returns a copy of the cached result with duration refreshed
func (c *resultCache) get(digest string, elapsed time.Duration) (*schema.ValidationResult, bool) {
	v, ok := c.entries.Peek(digest)
	if !ok {
		return nil, false
	}
	result := v.(*schema.ValidationResult).Clone()
	result.Duration = elapsed
	return result, true
}

func (c *resultCache) put(digest string, result *schema.ValidationResult) {
	if c.entries.Contains(digest) {
		return
	}
	if c.entries.Len() >= c.size {
		drop := c.size / 5
		if drop < 1 {
			drop = 1
		}
		for i := 0; i < drop; i++ {
			c.entries.RemoveOldest()
		}
	}
	c.entries.Add(digest, result.Clone())
}

func (c *resultCache) clear() {
	c.entries.Purge()
}

func (c *resultCache) len() int {
	return c.entries.Len()
}
