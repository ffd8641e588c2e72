package store

import (
	"sync"
	"time"
)

// QRCache holds the most recently decoded QR image
type QRCache struct {
	mu      sync.RWMutex
	image   []byte
	stamped time.Time
}

// NewQRCache creates an empty cache
func NewQRCache() *QRCache {
	return &QRCache{}
}

// Get returns the cached image when it is younger than ttl at now
func (c *QRCache) Get(now time.Time, ttl time.Duration) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.image) == 0 {
		return nil, false
	}
	if now.Sub(c.stamped) >= ttl {
		return nil, false
	}
	return c.image, true
}

// Put replaces the cached image, stamped with the time its cycle was requested
func (c *QRCache) Put(image []byte, stamped time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = image
	c.stamped = stamped
}

// Age reports how old the cached image is at now
func (c *QRCache) Age(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.image) == 0 {
		return 0, false
	}
	return now.Sub(c.stamped), true
}

// Clear drops the cached image
func (c *QRCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = nil
	c.stamped = time.Time{}
}
