package storage

import (
	"sync"

	"notice-engine/internal/notice"
)

// BannerCache keeps loaded banners until the next data change notification.
type BannerCache struct {
	mu      sync.RWMutex
	banners map[string]*notice.Banner
	gen     uint64
}

func NewBannerCache() *BannerCache {
	return &BannerCache{banners: map[string]*notice.Banner{}}
}

func (c *BannerCache) Get(name string) (*notice.Banner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.banners[name]
	return b, ok
}

// Gen returns the current generation. Read it before loading a banner and
// hand it to Put.
func (c *BannerCache) Gen() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Put stores b unless the cache was reset after gen was read, in which case
// b may predate the change and is dropped.
func (c *BannerCache) Put(b *notice.Banner, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.banners[b.Name] = b
	return true
}

// Reset drops every cached banner and starts a new generation.
func (c *BannerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banners = map[string]*notice.Banner{}
	c.gen++
}

func (c *BannerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.banners)
}
